package record

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseValue converts a literal typed in the shell into the Go value EncodeRow
// expects for col. "NULL" (any case) maps to nil.
func ParseValue(col Column, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "null") {
		return nil, nil
	}

	switch col.Type {
	case ColInt32:
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		return int32(n), nil
	case ColInt64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		return n, nil
	case ColBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		return b, nil
	case ColFloat64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		return f, nil
	case ColText:
		if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
			raw = raw[1 : len(raw)-1]
		}
		return raw, nil
	case ColBytes:
		b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		return b, nil
	}
	return nil, ErrUnsupportedType
}

// ParseRow splits a comma separated literal list and parses it against s.
func ParseRow(s Schema, line string) ([]any, error) {
	parts := strings.Split(line, ",")
	if len(parts) != s.NumCols() {
		return nil, fmt.Errorf("%w: want %d values, got %d", ErrSchemaMismatch, s.NumCols(), len(parts))
	}
	out := make([]any, len(parts))
	for i, p := range parts {
		v, err := ParseValue(s.Cols[i], p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
