package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Table prints aligned columns under a header and a dashed divider. Nothing
// is printed for a table without rows.
type Table struct {
	tw      *tabwriter.Writer
	headers []string
	prefix  string
	rows    int
}

// NewTable creates a table on stdout.
func NewTable(headers ...string) *Table {
	return NewTableTo(os.Stdout, headers...)
}

func NewTableTo(w io.Writer, headers ...string) *Table {
	return &Table{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0), headers: headers}
}

// WithPrefix indents every line, header included, by prefix.
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

func (t *Table) Row(values ...string) {
	if t.rows == 0 {
		t.line(t.headers)
		divider := make([]string, len(t.headers))
		for i, h := range t.headers {
			divider[i] = strings.Repeat("-", len(h))
		}
		t.line(divider)
	}
	t.rows++
	t.line(values)
}

// Rows is the number of data rows written.
func (t *Table) Rows() int { return t.rows }

func (t *Table) line(cells []string) {
	fmt.Fprintln(t.tw, t.prefix+strings.Join(cells, "\t"))
}

// Flush writes buffered rows.
func (t *Table) Flush() {
	if t.rows > 0 {
		t.tw.Flush()
	}
}
