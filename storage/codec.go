package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/goquel/goquel/eval"
)

// ColumnKind mirrors ast.ColumnType without importing ast, keeping storage
// independent of the compiler pipeline (it is consumed by both the
// executor and, in tests, directly).
type ColumnKind int

const (
	ColInt ColumnKind = iota
	ColVarchar
)

// Column is the codec's view of a schema column: just enough to encode and
// decode a value, in declared order.
type Column struct {
	Name      string
	Kind      ColumnKind
	MaxLength int // only meaningful for ColVarchar
}

// Schema is the ordered column list a row is encoded/decoded against.
type Schema []Column

func (s Schema) IndexOf(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Encode serializes row against schema's declared column order:
// null_bitmap(ceil(n/8)) + offset_table(2n) + data.
// A VARCHAR value exceeding its column's max_length, or a value of the
// wrong kind, is a type error (encode never coerces silently).
func Encode(row eval.Row, schema Schema) ([]byte, error) {
	n := len(schema)
	bitmapLen := (n + 7) / 8
	bitmap := make([]byte, bitmapLen)
	offsets := make([]uint16, n)
	var data []byte

	for i, col := range schema {
		v, present := row[col.Name]
		if !present {
			v = eval.Null()
		}
		if v.IsNull() {
			bitmap[i/8] |= 1 << uint(i%8)
			offsets[i] = 0
			continue
		}
		offsets[i] = uint16(len(data))
		switch col.Kind {
		case ColInt:
			if v.Kind != eval.KindInt {
				return nil, fmt.Errorf("column %q: expected INT, got %v", col.Name, v.Kind)
			}
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(v.Int))
			data = append(data, b[:]...)
		case ColVarchar:
			if v.Kind != eval.KindVarchar {
				return nil, fmt.Errorf("column %q: expected VARCHAR, got %v", col.Name, v.Kind)
			}
			strBytes := []byte(v.Str)
			if col.MaxLength > 0 && len([]rune(v.Str)) > col.MaxLength {
				return nil, fmt.Errorf("column %q: value length %d exceeds VARCHAR(%d)", col.Name, len([]rune(v.Str)), col.MaxLength)
			}
			if len(strBytes) > 65535 {
				return nil, fmt.Errorf("column %q: encoded value too large", col.Name)
			}
			var lb [2]byte
			binary.LittleEndian.PutUint16(lb[:], uint16(len(strBytes)))
			data = append(data, lb[:]...)
			data = append(data, strBytes...)
		}
	}

	out := make([]byte, 0, bitmapLen+2*n+len(data))
	out = append(out, bitmap...)
	offTable := make([]byte, 2*n)
	for i, o := range offsets {
		binary.LittleEndian.PutUint16(offTable[2*i:2*i+2], o)
	}
	out = append(out, offTable...)
	out = append(out, data...)
	return out, nil
}

// Decode is trusting: it assumes buf was produced by Encode under a
// compatible schema.
func Decode(buf []byte, schema Schema) (eval.Row, error) {
	n := len(schema)
	bitmapLen := (n + 7) / 8
	if len(buf) < bitmapLen+2*n {
		return nil, fmt.Errorf("record too short for schema of %d columns", n)
	}
	bitmap := buf[:bitmapLen]
	offTable := buf[bitmapLen : bitmapLen+2*n]
	data := buf[bitmapLen+2*n:]

	row := make(eval.Row, n)
	for i, col := range schema {
		isNull := bitmap[i/8]&(1<<uint(i%8)) != 0
		if isNull {
			row[col.Name] = eval.Null()
			continue
		}
		off := binary.LittleEndian.Uint16(offTable[2*i : 2*i+2])
		switch col.Kind {
		case ColInt:
			if int(off)+4 > len(data) {
				return nil, fmt.Errorf("column %q: truncated INT", col.Name)
			}
			v := int32(binary.LittleEndian.Uint32(data[off : off+4]))
			row[col.Name] = eval.Int(v)
		case ColVarchar:
			if int(off)+2 > len(data) {
				return nil, fmt.Errorf("column %q: truncated VARCHAR length", col.Name)
			}
			l := binary.LittleEndian.Uint16(data[off : off+2])
			start := int(off) + 2
			if start+int(l) > len(data) {
				return nil, fmt.Errorf("column %q: truncated VARCHAR data", col.Name)
			}
			row[col.Name] = eval.Varchar(string(data[start : start+int(l)]))
		}
	}
	return row, nil
}
