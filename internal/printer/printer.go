// Package printer renders fact sets for terminals and for machine
// consumption.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ghodss/yaml"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"

	"hostfact/internal/facts"
)

// Output formats accepted by Render.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

const (
	colorKey   = "\033[36m"
	colorReset = "\033[0m"
)

// Options select the format and the slice of the set to show.
type Options struct {
	Format string   // table, json or yaml
	Only   []string // fact name globs; empty keeps everything
	Color  bool
}

// ColorEnabled reports whether f is a terminal worth coloring.
func ColorEnabled(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Render writes fs to w in the requested format. Keys come out sorted in
// every format.
func Render(w io.Writer, fs facts.FactSet, opts Options) error {
	fs, err := Filter(fs, opts.Only)
	if err != nil {
		return err
	}
	switch opts.Format {
	case "", FormatTable:
		return renderTable(w, fs, opts.Color)
	case FormatJSON:
		return renderJSON(w, fs)
	case FormatYAML:
		return renderYAML(w, fs)
	}
	return fmt.Errorf("unknown output format %q", opts.Format)
}

// Filter keeps the facts whose names match any of the globs. Patterns use
// doublestar syntax, so brace alternates like {fqdn,hostname} work.
func Filter(fs facts.FactSet, globs []string) (facts.FactSet, error) {
	if len(globs) == 0 {
		return fs, nil
	}
	out := facts.FactSet{}
	for _, g := range globs {
		for k, v := range fs {
			ok, err := doublestar.Match(g, k)
			if err != nil {
				return nil, fmt.Errorf("bad fact pattern %q: %w", g, err)
			}
			if ok {
				out[k] = v
			}
		}
	}
	return out, nil
}

func renderTable(w io.Writer, fs facts.FactSet, color bool) error {
	keys := fs.Keys()
	width := 0
	for _, k := range keys {
		if kw := runewidth.StringWidth(k); kw > width {
			width = kw
		}
	}
	for _, k := range keys {
		name := runewidth.FillRight(k, width)
		if color {
			name = colorKey + name + colorReset
		}
		if _, err := fmt.Fprintf(w, "%s => %s\n", name, fs.String(k)); err != nil {
			return err
		}
	}
	return nil
}

func renderJSON(w io.Writer, fs facts.FactSet) error {
	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func renderYAML(w io.Writer, fs facts.FactSet) error {
	data, err := yaml.Marshal(fs)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
