// Package parser implements a recursive-descent parser that turns a token
// stream into an ast.Stmt.
package parser

import (
	"strings"

	"github.com/goquel/goquel/ast"
	"github.com/goquel/goquel/eval"
	"github.com/goquel/goquel/goqlerr"
	"github.com/goquel/goquel/lexer"
	"github.com/goquel/goquel/token"
)

// Parser consumes a fixed token slice with one token of lookahead, in the
// style of a textbook recursive-descent SQL parser, chosen over a parser
// generator so error messages can carry precise positions.
type Parser struct {
	toks []token.Token
	pos  int
}

// Parse tokenizes src and parses exactly one statement, rejecting any
// trailing tokens after an optional terminating semicolon.
func Parse(src string) (ast.Stmt, error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks}
	stmt, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	p.consumeOptional(token.DELIMITER, ";")
	if !p.atEOF() {
		t := p.cur()
		return nil, goqlerr.Syn(t.Line, t.Column, "unexpected trailing token %q", t.Text)
	}
	return stmt, nil
}

func (p *Parser) cur() token.Token  { return p.toks[p.pos] }
func (p *Parser) atEOF() bool       { return p.cur().Kind == token.EOF }
func (p *Parser) advance() token.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) check(kind token.Kind, text string) bool {
	t := p.cur()
	return t.Kind == kind && (text == "" || t.Text == text)
}

func (p *Parser) checkKeyword(kw string) bool { return p.check(token.KEYWORD, kw) }

// checkIdentText matches an identifier token case-insensitively, used for
// reserved-but-not-keyword words like FULL that only need to be recognized
// well enough to reject with a specific error.
func (p *Parser) checkIdentText(text string) bool {
	t := p.cur()
	return t.Kind == token.IDENTIFIER && strings.EqualFold(t.Text, text)
}

func (p *Parser) expect(kind token.Kind, text string) (token.Token, error) {
	if !p.check(kind, text) {
		t := p.cur()
		want := text
		if want == "" {
			want = kind.String()
		}
		return token.Token{}, goqlerr.Syn(t.Line, t.Column, "expected %q, found %q", want, t.Text)
	}
	return p.advance(), nil
}

func (p *Parser) expectKeyword(kw string) (token.Token, error) { return p.expect(token.KEYWORD, kw) }

func (p *Parser) consumeOptional(kind token.Kind, text string) bool {
	if p.check(kind, text) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) consumeOptionalKeyword(kw string) bool { return p.consumeOptional(token.KEYWORD, kw) }

func (p *Parser) parseStmt() (ast.Stmt, error) {
	t := p.cur()
	switch {
	case p.checkKeyword("SELECT"):
		return p.parseSelect()
	case p.checkKeyword("INSERT"):
		return p.parseInsert()
	case p.checkKeyword("UPDATE"):
		return p.parseUpdate()
	case p.checkKeyword("DELETE"):
		return p.parseDelete()
	case p.checkKeyword("CREATE"):
		return p.parseCreateTable()
	case p.checkKeyword("DROP"):
		return p.parseDropTable()
	case p.checkKeyword("ALTER"):
		return p.parseAlterTable()
	case p.checkKeyword("SHOW"):
		return p.parseShowTables()
	case p.checkKeyword("DESC"), p.checkKeyword("DESCRIBE"):
		return p.parseDescTable()
	default:
		return nil, goqlerr.Syn(t.Line, t.Column, "unexpected token %q at start of statement", t.Text)
	}
}

// ---- CREATE TABLE ----

func (p *Parser) parseCreateTable() (ast.Stmt, error) {
	startPos := toPos(p.cur())
	if _, err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.DELIMITER, "("); err != nil {
		return nil, err
	}

	var cols []ast.ColumnDef
	var fks []ast.ForeignKeyDef
	for {
		if p.checkKeyword("PRIMARY") {
			pk, err := p.parseTablePrimaryKey()
			if err != nil {
				return nil, err
			}
			applyTablePrimaryKey(cols, pk)
		} else if p.checkKeyword("FOREIGN") || p.checkIdentText("CONSTRAINT") {
			constraintName := ""
			if p.checkIdentText("CONSTRAINT") {
				p.advance()
				nameTok, err := p.expect(token.IDENTIFIER, "")
				if err != nil {
					return nil, err
				}
				constraintName = nameTok.Text
			}
			fk, err := p.parseTableForeignKey()
			if err != nil {
				return nil, err
			}
			fk.ConstraintName = constraintName
			fks = append(fks, fk)
		} else {
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		if p.consumeOptional(token.DELIMITER, ",") {
			continue
		}
		break
	}
	if _, err := p.expect(token.DELIMITER, ")"); err != nil {
		return nil, err
	}

	return &ast.CreateTable{Pos: startPos, Table: nameTok.Text, Columns: cols, ForeignKeys: fks}, nil
}

func (p *Parser) parseColumnDef() (ast.ColumnDef, error) {
	pos := toPos(p.cur())
	nameTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return ast.ColumnDef{}, err
	}
	colType, maxLen, err := p.parseColumnType()
	if err != nil {
		return ast.ColumnDef{}, err
	}
	var constraints []ast.ColumnConstraint
	for {
		switch {
		case p.checkKeyword("PRIMARY"):
			p.advance()
			if _, err := p.expectKeyword("KEY"); err != nil {
				return ast.ColumnDef{}, err
			}
			constraints = append(constraints, ast.ColumnConstraint{Kind: ast.ConstraintPrimaryKey})
		case p.checkKeyword("NOT"):
			p.advance()
			if _, err := p.expectKeyword("NULL"); err != nil {
				return ast.ColumnDef{}, err
			}
			constraints = append(constraints, ast.ColumnConstraint{Kind: ast.ConstraintNotNull})
		case p.checkKeyword("UNIQUE"):
			p.advance()
			constraints = append(constraints, ast.ColumnConstraint{Kind: ast.ConstraintUnique})
		case p.checkKeyword("DEFAULT"):
			p.advance()
			lit, err := p.parseLiteralForDefault()
			if err != nil {
				return ast.ColumnDef{}, err
			}
			constraints = append(constraints, ast.ColumnConstraint{Kind: ast.ConstraintDefault, Default: lit})
		default:
			return ast.ColumnDef{Pos: pos, Name: nameTok.Text, Type: colType, MaxLength: maxLen, Constraints: constraints}, nil
		}
	}
}

func (p *Parser) parseColumnType() (ast.ColumnType, int, error) {
	t := p.cur()
	switch {
	case p.checkKeyword("INT") || p.checkKeyword("INTEGER"):
		p.advance()
		return ast.TypeInt, 0, nil
	case p.checkKeyword("VARCHAR"):
		p.advance()
		if _, err := p.expect(token.DELIMITER, "("); err != nil {
			return "", 0, err
		}
		lenTok, err := p.expect(token.NUMBER, "")
		if err != nil {
			return "", 0, err
		}
		n, err := eval.ParseIntStrict(lenTok.Text)
		if err != nil {
			return "", 0, goqlerr.Syn(lenTok.Line, lenTok.Column, "invalid VARCHAR length %q", lenTok.Text)
		}
		if _, err := p.expect(token.DELIMITER, ")"); err != nil {
			return "", 0, err
		}
		return ast.TypeVarchar, int(n), nil
	default:
		return "", 0, goqlerr.Syn(t.Line, t.Column, "expected a column type, found %q", t.Text)
	}
}

func (p *Parser) parseLiteralForDefault() (*ast.ValueLit, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	lit, ok := expr.(*ast.ValueLit)
	if !ok {
		pos := expr.Position()
		return nil, goqlerr.Syn(pos.Line, pos.Column, "DEFAULT requires a literal value")
	}
	return lit, nil
}

// parseTablePrimaryKey parses `PRIMARY KEY (col[, col...])`. Composite keys
// are accepted syntactically; only the first column is marked, matching
// this engine's single-column PRIMARY KEY semantics (no composite-key
// algorithm is supported).
func (p *Parser) parseTablePrimaryKey() ([]string, error) {
	p.advance() // PRIMARY
	if _, err := p.expectKeyword("KEY"); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.DELIMITER, "("); err != nil {
		return nil, err
	}
	var names []string
	for {
		tok, err := p.expect(token.IDENTIFIER, "")
		if err != nil {
			return nil, err
		}
		names = append(names, tok.Text)
		if p.consumeOptional(token.DELIMITER, ",") {
			continue
		}
		break
	}
	if _, err := p.expect(token.DELIMITER, ")"); err != nil {
		return nil, err
	}
	return names, nil
}

func applyTablePrimaryKey(cols []ast.ColumnDef, names []string) {
	if len(names) == 0 {
		return
	}
	for i := range cols {
		if cols[i].Name == names[0] {
			cols[i].Constraints = append(cols[i].Constraints, ast.ColumnConstraint{Kind: ast.ConstraintPrimaryKey})
			return
		}
	}
}

func (p *Parser) parseTableForeignKey() (ast.ForeignKeyDef, error) {
	pos := toPos(p.cur())
	p.advance() // FOREIGN
	if _, err := p.expectKeyword("KEY"); err != nil {
		return ast.ForeignKeyDef{}, err
	}
	if _, err := p.expect(token.DELIMITER, "("); err != nil {
		return ast.ForeignKeyDef{}, err
	}
	colTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return ast.ForeignKeyDef{}, err
	}
	if _, err := p.expect(token.DELIMITER, ")"); err != nil {
		return ast.ForeignKeyDef{}, err
	}
	if _, err := p.expectKeyword("REFERENCES"); err != nil {
		return ast.ForeignKeyDef{}, err
	}
	refTableTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return ast.ForeignKeyDef{}, err
	}
	if _, err := p.expect(token.DELIMITER, "("); err != nil {
		return ast.ForeignKeyDef{}, err
	}
	refColTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return ast.ForeignKeyDef{}, err
	}
	if _, err := p.expect(token.DELIMITER, ")"); err != nil {
		return ast.ForeignKeyDef{}, err
	}
	return ast.ForeignKeyDef{Pos: pos, Column: colTok.Text, RefTable: refTableTok.Text, RefColumn: refColTok.Text}, nil
}

// ---- ALTER TABLE ----

func (p *Parser) parseAlterTable() (ast.Stmt, error) {
	pos := toPos(p.cur())
	p.advance() // ALTER
	if _, err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return nil, err
	}
	switch {
	case p.checkKeyword("ADD"):
		p.advance()
		p.consumeOptionalKeyword("COLUMN")
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		return &ast.AlterTable{Pos: pos, Table: nameTok.Text, Action: ast.AlterAddColumn, Column: col}, nil
	case p.checkKeyword("DROP"):
		p.advance()
		p.consumeOptionalKeyword("COLUMN")
		colTok, err := p.expect(token.IDENTIFIER, "")
		if err != nil {
			return nil, err
		}
		return &ast.AlterTable{Pos: pos, Table: nameTok.Text, Action: ast.AlterDropColumn, ColumnName: colTok.Text}, nil
	case p.checkKeyword("RENAME"):
		p.advance()
		p.consumeOptionalKeyword("TO")
		newTok, err := p.expect(token.IDENTIFIER, "")
		if err != nil {
			return nil, err
		}
		return &ast.AlterTable{Pos: pos, Table: nameTok.Text, Action: ast.AlterRename, NewTableName: newTok.Text}, nil
	case p.checkKeyword("MODIFY"):
		p.advance()
		p.consumeOptionalKeyword("COLUMN")
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		return &ast.AlterTable{Pos: pos, Table: nameTok.Text, Action: ast.AlterModifyColumn, Column: col, ColumnName: col.Name}, nil
	case p.checkKeyword("CHANGE"):
		p.advance()
		p.consumeOptionalKeyword("COLUMN")
		oldTok, err := p.expect(token.IDENTIFIER, "")
		if err != nil {
			return nil, err
		}
		newTok, err := p.expect(token.IDENTIFIER, "")
		if err != nil {
			return nil, err
		}
		return &ast.AlterTable{Pos: pos, Table: nameTok.Text, Action: ast.AlterChangeColumn, ColumnName: oldTok.Text, NewName: newTok.Text}, nil
	}
	t := p.cur()
	return nil, goqlerr.Syn(t.Line, t.Column, "unsupported ALTER TABLE action %q", t.Text)
}

func (p *Parser) parseDropTable() (ast.Stmt, error) {
	pos := toPos(p.cur())
	p.advance() // DROP
	if _, err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return nil, err
	}
	return &ast.DropTable{Pos: pos, Table: nameTok.Text}, nil
}

// ---- SHOW TABLES / DESC ----

func (p *Parser) parseShowTables() (ast.Stmt, error) {
	pos := toPos(p.cur())
	p.advance() // SHOW
	if _, err := p.expectKeyword("TABLES"); err != nil {
		return nil, err
	}
	return &ast.ShowTables{Pos: pos}, nil
}

func (p *Parser) parseDescTable() (ast.Stmt, error) {
	pos := toPos(p.cur())
	p.advance() // DESC | DESCRIBE
	nameTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return nil, err
	}
	return &ast.DescTable{Pos: pos, Table: nameTok.Text}, nil
}

// ---- INSERT ----

func (p *Parser) parseInsert() (ast.Stmt, error) {
	pos := toPos(p.cur())
	p.advance() // INSERT
	if _, err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return nil, err
	}
	var columns []string
	if p.consumeOptional(token.DELIMITER, "(") {
		for {
			colTok, err := p.expect(token.IDENTIFIER, "")
			if err != nil {
				return nil, err
			}
			columns = append(columns, colTok.Text)
			if p.consumeOptional(token.DELIMITER, ",") {
				continue
			}
			break
		}
		if _, err := p.expect(token.DELIMITER, ")"); err != nil {
			return nil, err
		}
	}
	if _, err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.DELIMITER, "("); err != nil {
		return nil, err
	}
	var values []ast.Expr
	for {
		v, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.consumeOptional(token.DELIMITER, ",") {
			continue
		}
		break
	}
	if _, err := p.expect(token.DELIMITER, ")"); err != nil {
		return nil, err
	}
	return &ast.Insert{Pos: pos, Table: nameTok.Text, Columns: columns, Values: values}, nil
}

// ---- UPDATE / DELETE ----

func (p *Parser) parseUpdate() (ast.Stmt, error) {
	pos := toPos(p.cur())
	p.advance() // UPDATE
	nameTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var assigns []ast.Assignment
	for {
		colTok, err := p.expect(token.IDENTIFIER, "")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.OPERATOR, "="); err != nil {
			return nil, err
		}
		val, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, ast.Assignment{Column: colTok.Text, Value: val})
		if p.consumeOptional(token.DELIMITER, ",") {
			continue
		}
		break
	}
	var where ast.Expr
	if p.checkKeyword("WHERE") {
		p.advance()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return &ast.Update{Pos: pos, Table: nameTok.Text, Set: assigns, Where: where}, nil
}

func (p *Parser) parseDelete() (ast.Stmt, error) {
	pos := toPos(p.cur())
	p.advance() // DELETE
	if _, err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return nil, err
	}
	var where ast.Expr
	if p.checkKeyword("WHERE") {
		p.advance()
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return &ast.Delete{Pos: pos, Table: nameTok.Text, Where: where}, nil
}

// ---- SELECT ----

func (p *Parser) parseSelect() (ast.Stmt, error) {
	pos := toPos(p.cur())
	p.advance() // SELECT
	distinct := p.consumeOptionalKeyword("DISTINCT")

	items, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}

	if p.check(token.DELIMITER, ",") {
		t := p.cur()
		return nil, goqlerr.Syn(t.Line, t.Column, "comma-separated implicit joins are not supported, use JOIN ... ON")
	}
	if p.checkIdentText("FULL") {
		t := p.cur()
		return nil, goqlerr.Syn(t.Line, t.Column, "FULL JOIN is not supported")
	}

	var joins []ast.Join
	for p.isJoinStart() {
		j, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		joins = append(joins, j)
	}

	sel := &ast.Select{Pos: pos, Distinct: distinct, Items: items, From: from, Joins: joins}

	if p.checkKeyword("WHERE") {
		p.advance()
		sel.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if p.checkKeyword("GROUP") {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.parseQualifiedName()
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, col)
			if p.consumeOptional(token.DELIMITER, ",") {
				continue
			}
			break
		}
	}
	if p.checkKeyword("HAVING") {
		p.advance()
		sel.Having, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if p.checkKeyword("ORDER") {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			key, err := p.parseSortKey()
			if err != nil {
				return nil, err
			}
			sel.OrderBy = append(sel.OrderBy, key)
			if p.consumeOptional(token.DELIMITER, ",") {
				continue
			}
			break
		}
	}
	if p.checkKeyword("LIMIT") {
		p.advance()
		limTok, err := p.expect(token.NUMBER, "")
		if err != nil {
			return nil, err
		}
		n, err := eval.ParseIntStrict(limTok.Text)
		if err != nil {
			return nil, goqlerr.Syn(limTok.Line, limTok.Column, "invalid LIMIT value %q", limTok.Text)
		}
		sel.LimitSet = true
		sel.Limit = int(n)
		if p.consumeOptional(token.DELIMITER, ",") {
			// MySQL form: LIMIT offset, count.
			cntTok, err := p.expect(token.NUMBER, "")
			if err != nil {
				return nil, err
			}
			cnt, err := eval.ParseIntStrict(cntTok.Text)
			if err != nil {
				return nil, goqlerr.Syn(cntTok.Line, cntTok.Column, "invalid LIMIT value %q", cntTok.Text)
			}
			sel.Offset = int(n)
			sel.Limit = int(cnt)
		} else if p.consumeOptionalKeyword("OFFSET") {
			offTok, err := p.expect(token.NUMBER, "")
			if err != nil {
				return nil, err
			}
			off, err := eval.ParseIntStrict(offTok.Text)
			if err != nil {
				return nil, goqlerr.Syn(offTok.Line, offTok.Column, "invalid OFFSET value %q", offTok.Text)
			}
			sel.Offset = int(off)
		}
	}
	return sel, nil
}

func (p *Parser) parseSelectList() ([]ast.SelectItem, error) {
	var items []ast.SelectItem
	for {
		pos := toPos(p.cur())
		if p.check(token.OPERATOR, "*") {
			p.advance()
			items = append(items, ast.SelectItem{Pos: pos, Star: true})
		} else {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			alias := ""
			if p.consumeOptionalKeyword("AS") {
				aliasTok, err := p.expect(token.IDENTIFIER, "")
				if err != nil {
					return nil, err
				}
				alias = aliasTok.Text
			} else if p.check(token.IDENTIFIER, "") {
				alias = p.advance().Text
			}
			items = append(items, ast.SelectItem{Pos: pos, Expr: expr, Alias: alias})
		}
		if p.consumeOptional(token.DELIMITER, ",") {
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseTableRef() (ast.TableRef, error) {
	pos := toPos(p.cur())
	nameTok, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return ast.TableRef{}, err
	}
	alias := ""
	if p.consumeOptionalKeyword("AS") {
		aliasTok, err := p.expect(token.IDENTIFIER, "")
		if err != nil {
			return ast.TableRef{}, err
		}
		alias = aliasTok.Text
	} else if p.check(token.IDENTIFIER, "") && !p.checkIdentText("FULL") {
		alias = p.advance().Text
	}
	return ast.TableRef{Pos: pos, Table: nameTok.Text, Alias: alias}, nil
}

func (p *Parser) isJoinStart() bool {
	return p.checkKeyword("JOIN") || p.checkKeyword("INNER") || p.checkKeyword("LEFT") || p.checkKeyword("RIGHT")
}

func (p *Parser) parseJoin() (ast.Join, error) {
	pos := toPos(p.cur())
	kind := ast.JoinInner
	switch {
	case p.checkKeyword("INNER"):
		p.advance()
	case p.checkKeyword("LEFT"):
		p.advance()
		p.consumeOptionalKeyword("OUTER")
		kind = ast.JoinLeft
	case p.checkKeyword("RIGHT"):
		p.advance()
		p.consumeOptionalKeyword("OUTER")
		kind = ast.JoinRight
	}
	if _, err := p.expectKeyword("JOIN"); err != nil {
		return ast.Join{}, err
	}
	ref, err := p.parseTableRef()
	if err != nil {
		return ast.Join{}, err
	}
	if _, err := p.expectKeyword("ON"); err != nil {
		return ast.Join{}, err
	}
	on, err := p.parseExpr()
	if err != nil {
		return ast.Join{}, err
	}
	return ast.Join{Pos: pos, Kind: kind, Ref: ref, On: on}, nil
}

func (p *Parser) parseQualifiedName() (string, error) {
	first, err := p.expect(token.IDENTIFIER, "")
	if err != nil {
		return "", err
	}
	name := first.Text
	if p.consumeOptional(token.DELIMITER, ".") {
		second, err := p.expect(token.IDENTIFIER, "")
		if err != nil {
			return "", err
		}
		name = name + "." + second.Text
	}
	return name, nil
}

func (p *Parser) parseSortKey() (ast.SortKey, error) {
	if p.check(token.NUMBER, "") {
		tok := p.advance()
		n, err := eval.ParseIntStrict(tok.Text)
		if err != nil {
			return ast.SortKey{}, goqlerr.Syn(tok.Line, tok.Column, "invalid ORDER BY ordinal %q", tok.Text)
		}
		desc := p.consumeDirection()
		return ast.SortKey{Ordinal: int(n), Descending: desc}, nil
	}
	name, err := p.parseQualifiedName()
	if err != nil {
		return ast.SortKey{}, err
	}
	desc := p.consumeDirection()
	return ast.SortKey{Column: name, Descending: desc}, nil
}

func (p *Parser) consumeDirection() bool {
	if p.consumeOptionalKeyword("DESC") {
		return true
	}
	p.consumeOptionalKeyword("ASC")
	return false
}

// ---- Expressions ----
//
// Precedence, loosest to tightest:
//   OR
//   AND
//   NOT
//   comparison / LIKE / IN / BETWEEN / IS NULL
//   primary (literal, column, aggregate, parenthesized)

func (p *Parser) parseExpr() (ast.Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.checkKeyword("OR") {
		pos := toPos(p.cur())
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.LogicalOp{Pos: pos, Kind: ast.LogOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.checkKeyword("AND") {
		pos := toPos(p.cur())
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.LogicalOp{Pos: pos, Kind: ast.LogAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (ast.Expr, error) {
	if p.checkKeyword("NOT") {
		pos := toPos(p.cur())
		p.advance()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.Not{Pos: pos, Expr: inner}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	negate := false
	if p.checkKeyword("NOT") {
		// lookahead: NOT must be followed by LIKE/IN/BETWEEN to belong here;
		// otherwise it is the unary NOT already handled one level up (this
		// branch is only reached from parseNot's recursive call chain, so a
		// bare NOT here always introduces one of these three forms).
		negate = true
		p.advance()
	}

	switch {
	case p.checkKeyword("LIKE"):
		pos := toPos(p.cur())
		p.advance()
		pattern, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &ast.Like{Pos: pos, Target: left, Pattern: pattern, Negate: negate}, nil
	case p.checkKeyword("IN"):
		pos := toPos(p.cur())
		p.advance()
		if _, err := p.expect(token.DELIMITER, "("); err != nil {
			return nil, err
		}
		if p.checkKeyword("SELECT") {
			sub, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.DELIMITER, ")"); err != nil {
				return nil, err
			}
			return &ast.In{Pos: pos, Target: left, Subquery: sub.(*ast.Select), Negate: negate}, nil
		}
		list, err := p.parseInListTail()
		if err != nil {
			return nil, err
		}
		return &ast.In{Pos: pos, Target: left, List: list, Negate: negate}, nil
	case p.checkKeyword("BETWEEN"):
		pos := toPos(p.cur())
		p.advance()
		low, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		high, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &ast.Between{Pos: pos, Target: left, Low: low, High: high, Negate: negate}, nil
	}

	if negate {
		t := p.cur()
		return nil, goqlerr.Syn(t.Line, t.Column, "expected LIKE, IN, or BETWEEN after NOT, found %q", t.Text)
	}

	if p.checkKeyword("IS") {
		pos := toPos(p.cur())
		p.advance()
		isNegate := p.consumeOptionalKeyword("NOT")
		if _, err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &ast.IsNull{Pos: pos, Target: left, Negate: isNegate}, nil
	}

	if op, ok := p.peekComparisonOp(); ok {
		pos := toPos(p.cur())
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &ast.BinaryOp{Pos: pos, Op: op, Left: left, Right: right}, nil
	}

	return left, nil
}

func (p *Parser) peekComparisonOp() (ast.BinOp, bool) {
	if p.cur().Kind != token.OPERATOR {
		return "", false
	}
	switch p.cur().Text {
	case "=":
		return ast.OpEq, true
	case "!=", "<>":
		return ast.OpNeq, true
	case "<":
		return ast.OpLt, true
	case "<=":
		return ast.OpLte, true
	case ">":
		return ast.OpGt, true
	case ">=":
		return ast.OpGte, true
	}
	return "", false
}

// parseInListTail parses the comma-separated literal list of an IN clause
// whose opening paren has already been consumed by the caller (which must
// first check for the `IN (SELECT ...)` subquery form).
func (p *Parser) parseInListTail() ([]ast.Expr, error) {
	var list []ast.Expr
	for {
		v, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		list = append(list, v)
		if p.consumeOptional(token.DELIMITER, ",") {
			continue
		}
		break
	}
	if _, err := p.expect(token.DELIMITER, ")"); err != nil {
		return nil, err
	}
	return list, nil
}

// parseAdditive exists only to give arithmetic a slot above primary; the
// expression language has no arithmetic operators, so this layer just
// passes through to parsePrimary, keeping the precedence
// chain ready if arithmetic is ever added without reshuffling callers.
func (p *Parser) parseAdditive() (ast.Expr, error) { return p.parsePrimary() }

func (p *Parser) parsePrimary() (ast.Expr, error) {
	pos := toPos(p.cur())
	t := p.cur()
	switch {
	case t.Kind == token.NUMBER:
		p.advance()
		if strings.ContainsRune(t.Text, '.') {
			// Decimal literals tokenize but never reach storage: INT is the
			// only numeric type.
			return nil, goqlerr.Sem(t.Line, t.Column, "decimal literal %q is not supported", t.Text)
		}
		n, err := eval.ParseIntStrict(t.Text)
		if err != nil {
			return nil, goqlerr.Syn(t.Line, t.Column, "invalid integer literal %q", t.Text)
		}
		return &ast.ValueLit{Pos: pos, Kind: ast.LitInt, Int: n}, nil
	case t.Kind == token.STRING:
		p.advance()
		return &ast.ValueLit{Pos: pos, Kind: ast.LitString, Str: t.Text}, nil
	case p.checkKeyword("NULL"):
		p.advance()
		return &ast.ValueLit{Pos: pos, Kind: ast.LitNull}, nil
	case p.checkKeyword("TRUE"):
		p.advance()
		return &ast.ValueLit{Pos: pos, Kind: ast.LitInt, Int: 1}, nil
	case p.checkKeyword("FALSE"):
		p.advance()
		return &ast.ValueLit{Pos: pos, Kind: ast.LitInt, Int: 0}, nil
	case p.isAggregateStart():
		return p.parseAggregate()
	case t.Kind == token.DELIMITER && t.Text == "(":
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.DELIMITER, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	case t.Kind == token.IDENTIFIER:
		return p.parseColumnRef()
	}
	return nil, goqlerr.Syn(t.Line, t.Column, "unexpected token %q in expression", t.Text)
}

func (p *Parser) isAggregateStart() bool {
	switch {
	case p.checkKeyword("COUNT"), p.checkKeyword("SUM"), p.checkKeyword("AVG"), p.checkKeyword("MIN"), p.checkKeyword("MAX"):
		return true
	}
	return false
}

func (p *Parser) parseAggregate() (ast.Expr, error) {
	pos := toPos(p.cur())
	fn := ast.AggFunc(p.advance().Text)
	if _, err := p.expect(token.DELIMITER, "("); err != nil {
		return nil, err
	}
	if p.check(token.OPERATOR, "*") {
		p.advance()
		if _, err := p.expect(token.DELIMITER, ")"); err != nil {
			return nil, err
		}
		return &ast.AggregateFunc{Pos: pos, Func: fn, Star: true}, nil
	}
	arg, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.DELIMITER, ")"); err != nil {
		return nil, err
	}
	return &ast.AggregateFunc{Pos: pos, Func: fn, Arg: arg}, nil
}

func (p *Parser) parseColumnRef() (ast.Expr, error) {
	pos := toPos(p.cur())
	first := p.advance()
	if p.consumeOptional(token.DELIMITER, ".") {
		second, err := p.expect(token.IDENTIFIER, "")
		if err != nil {
			return nil, err
		}
		return &ast.ColumnRef{Pos: pos, Table: first.Text, Column: second.Text}, nil
	}
	return &ast.ColumnRef{Pos: pos, Column: first.Text}, nil
}

func toPos(t token.Token) ast.Pos { return ast.Pos{Line: t.Line, Column: t.Column} }
