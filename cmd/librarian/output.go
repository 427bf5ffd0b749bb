package main

import (
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type printer struct {
	w    io.Writer
	json bool
}

// newPrinter picks table output for terminals and JSON otherwise, unless
// format forces one.
func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case "json":
		return &printer{w: w, json: true}, nil
	case "table":
		return &printer{w: w}, nil
	case "auto", "":
		f, ok := w.(*os.File)
		return &printer{w: w, json: !ok || !term.IsTerminal(int(f.Fd()))}, nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// emit writes v as JSON, or the rows as a table.
func (p *printer) emit(v any, headers []string, rows [][]string) error {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(p.w, "No results.")
		return err
	}
	table := tablewriter.NewWriter(p.w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
	return nil
}

// record writes a single object as a two-column table.
func (p *printer) record(v any, fields [][2]string) error {
	if p.json {
		return p.emit(v, nil, nil)
	}
	rows := make([][]string, len(fields))
	for i, f := range fields {
		rows[i] = []string{f[0], f[1]}
	}
	table := tablewriter.NewWriter(p.w)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
	return nil
}

func (p *printer) message(v any, text string) error {
	if p.json {
		return p.emit(v, nil, nil)
	}
	_, err := fmt.Fprintln(p.w, text)
	return err
}

func day(t time.Time) string {
	return t.Format("2006-01-02")
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
