package record

import (
	"fmt"
	"strings"
)

type ColumnType uint8

const (
	ColInt32 ColumnType = iota
	ColInt64
	ColBool
	ColFloat64
	ColText  // UTF-8
	ColBytes // opaque bytes
)

var colTypeNames = map[ColumnType]string{
	ColInt32:   "int32",
	ColInt64:   "int64",
	ColBool:    "bool",
	ColFloat64: "float64",
	ColText:    "text",
	ColBytes:   "bytes",
}

func (t ColumnType) String() string {
	if s, ok := colTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// ParseColumnType accepts the names printed by String plus a few SQL aliases.
func ParseColumnType(s string) (ColumnType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int32", "int":
		return ColInt32, nil
	case "int64", "bigint":
		return ColInt64, nil
	case "bool", "boolean":
		return ColBool, nil
	case "float64", "float", "double":
		return ColFloat64, nil
	case "text", "string":
		return ColText, nil
	case "bytes", "blob":
		return ColBytes, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

type Schema struct {
	Cols []Column `json:"cols"`
}

func (s Schema) NumCols() int { return len(s.Cols) }

func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Cols))
	for i, c := range s.Cols {
		names[i] = c.Name
	}
	return names
}

// ParseSchema parses "id:int64, name:text?, ..." where a trailing '?' marks
// the column nullable.
func ParseSchema(def string) (Schema, error) {
	var s Schema
	for _, part := range strings.Split(def, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return Schema{}, fmt.Errorf("record: invalid column def %q", part)
		}
		typ = strings.TrimSpace(typ)
		nullable := strings.HasSuffix(typ, "?")
		ct, err := ParseColumnType(strings.TrimSuffix(typ, "?"))
		if err != nil {
			return Schema{}, err
		}
		s.Cols = append(s.Cols, Column{Name: strings.TrimSpace(name), Type: ct, Nullable: nullable})
	}
	if len(s.Cols) == 0 {
		return Schema{}, fmt.Errorf("record: empty column list")
	}
	return s, nil
}
