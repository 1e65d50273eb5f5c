// Package goquel ties the compiler pipeline (lexer, parser, semantic
// analyzer, planner, executor) to the page-based storage substrate behind
// a single DB handle, the embedding surface cmd/goqlsh drives.
package goquel

import (
	"strings"

	"go.uber.org/zap"

	"github.com/goquel/goquel/catalog"
	"github.com/goquel/goquel/config"
	"github.com/goquel/goquel/eval"
	"github.com/goquel/goquel/exec"
	"github.com/goquel/goquel/parser"
	"github.com/goquel/goquel/plan"
	"github.com/goquel/goquel/semantic"
	"github.com/goquel/goquel/storage"
)

// DB owns one data directory's engine, catalog, and executor. It is not
// safe for concurrent use by multiple goroutines; concurrency control is
// out of scope.
type DB struct {
	Engine   *storage.Engine
	Catalog  *catalog.Catalog
	Analyzer *semantic.Analyzer
	executor *exec.Executor
	log      *zap.SugaredLogger
}

// Open attaches to cfg.DataDir, creating it on first use, and rebuilds the
// catalog's in-memory caches from its system tables.
func Open(cfg config.Config, log *zap.SugaredLogger) (*DB, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	policy, err := cfg.ReplacementPolicy()
	if err != nil {
		return nil, err
	}
	engine, err := storage.Open(cfg.DataDir, cfg.BufferPages, policy, log)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(engine, log)
	if err != nil {
		return nil, err
	}
	return &DB{
		Engine:   engine,
		Catalog:  cat,
		Analyzer: semantic.New(cat),
		executor: exec.New(engine, cat, log),
		log:      log,
	}, nil
}

func (db *DB) Close() error { return db.Engine.Close() }

// Exec runs exactly one statement through the full pipeline: parse,
// analyze, plan, build the operator tree, and drive it to completion. The
// returned rows are status rows for DDL/DML, result rows for queries.
func (db *DB) Exec(sql string) ([]eval.Row, error) {
	stmt, err := parser.Parse(sql)
	if err != nil {
		return nil, err
	}
	if err := db.Analyzer.Analyze(stmt); err != nil {
		return nil, err
	}
	node, err := plan.Build(stmt, db.Catalog)
	if err != nil {
		return nil, err
	}
	op, err := exec.Build(node)
	if err != nil {
		return nil, err
	}
	db.log.Debugw("plan built", "op", plan.Dump(node))

	iter := db.executor.RunIter(op)
	var rows []eval.Row
	for iter.Next() {
		rows = append(rows, iter.Row())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// ExecScript splits src into `;`-terminated statements and runs each in
// turn, stopping at the first error. Empty statements (trailing
// whitespace, a lone semicolon) are skipped.
func (db *DB) ExecScript(src string) ([][]eval.Row, error) {
	var results [][]eval.Row
	for _, stmt := range splitStatements(src) {
		rows, err := db.Exec(stmt)
		if err != nil {
			return results, err
		}
		results = append(results, rows)
	}
	return results, nil
}

// splitStatements breaks a script on top-level semicolons, tracking
// quoted-string state (single or double quotes, including the lexer's
// doubled-quote and backslash escapes) and `--`/`/* */` comments so a `;`
// inside either is not mistaken for a statement terminator.
func splitStatements(src string) []string {
	var stmts []string
	var cur []rune
	runes := []rune(src)
	var quote rune // 0 when outside a string
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			cur = append(cur, r)
			if r == '\\' && i+1 < len(runes) {
				i++
				cur = append(cur, runes[i])
				continue
			}
			if r == quote {
				if i+1 < len(runes) && runes[i+1] == quote {
					i++
					cur = append(cur, runes[i])
					continue
				}
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"':
			quote = r
			cur = append(cur, r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
		case r == ';':
			if s := strings.TrimSpace(string(cur)); s != "" {
				stmts = append(stmts, s)
			}
			cur = cur[:0]
		default:
			cur = append(cur, r)
		}
	}
	if s := strings.TrimSpace(string(cur)); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}
