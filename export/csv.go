// Package export renders list rows as CSV and hands the bytes to a Saver.
package export

import (
	"bytes"
	"strings"

	"github.com/aep/healthdesk/list"
)

const MimeCSV = "text/csv; charset=utf-8"

// Export renders rows as RFC 4180 CSV: a header row, then one line per row
// with columns in order. Every cell is quoted and lines end in CRLF.
// Fields unknown to a row render as empty cells.
func Export[R list.Row](rows []R, columns []list.Column) []byte {
	var b bytes.Buffer

	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = c.Header
	}
	writeLine(&b, header)

	cells := make([]string, len(columns))
	for _, row := range rows {
		for i, c := range columns {
			v, _ := row.Field(c.Key)
			cells[i] = v.String()
		}
		writeLine(&b, cells)
	}
	return b.Bytes()
}

func writeLine(b *bytes.Buffer, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(cell, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteString("\r\n")
}
