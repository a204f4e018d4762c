package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/tuannm99/heapscan/internal/heap"
	"github.com/tuannm99/heapscan/internal/record"
)

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("0x%x", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// printRows prints rows as an aligned table with a leading rid column.
func printRows(w io.Writer, schema record.Schema, rows []heap.Tuple) {
	cols := append([]string{"rid"}, schema.ColumnNames()...)

	cells := make([][]string, len(rows))
	for r, row := range rows {
		line := make([]string, len(cols))
		line[0] = row.RID.String()
		for i := 1; i < len(cols); i++ {
			if i-1 < len(row.Values) {
				line[i] = formatValue(row.Values[i-1])
			} else {
				line[i] = "NULL"
			}
		}
		cells[r] = line
	}

	// 1) compute widths
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}
	for _, line := range cells {
		for i, s := range line {
			widths[i] = max(widths[i], len(s))
		}
	}

	printRow := func(values []string) {
		for i := range cols {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			fmt.Fprint(w, padRight(values[i], widths[i]))
		}
		fmt.Fprintln(w)
	}

	// 2) header, 3) separator, 4) rows
	printRow(cols)
	for i := range cols {
		if i > 0 {
			fmt.Fprint(w, "-+-")
		}
		fmt.Fprint(w, strings.Repeat("-", widths[i]))
	}
	fmt.Fprintln(w)
	for _, line := range cells {
		printRow(line)
	}

	fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}
