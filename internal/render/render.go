// Package render executes user templates against a collected fact set.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/ghodss/yaml"

	"hostfact/internal/facts"
	"hostfact/internal/osinfo"
)

// Data is the root object templates execute against.
type Data struct {
	Facts facts.FactSet
	OS    osinfo.Info
	Now   time.Time
}

// Execute parses text as a template and renders it with data. The sprig
// hermetic function map is available, plus toYAML and toJSON. Hermetic
// means no env access from templates.
func Execute(w io.Writer, name, text string, data Data) error {
	tmpl, err := template.New(name).Funcs(helperFuncs()).Parse(text)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", name, err)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render template %s: %w", name, err)
	}
	return nil
}

// ExecuteFile renders the template file at path.
func ExecuteFile(w io.Writer, path string, data Data) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Execute(w, filepath.Base(path), string(b), data)
}

func helperFuncs() template.FuncMap {
	fns := template.FuncMap{
		"toYAML": toYAML,
		"toJSON": toJSON,
	}
	for k, fn := range sprig.HermeticTxtFuncMap() {
		fns[k] = fn
	}
	return fns
}

func toYAML(v any) (string, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func toJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
