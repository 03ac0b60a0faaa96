package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"reservoir/pkg/apperror"
	"reservoir/pkg/deck"
	"reservoir/pkg/domain"
)

// printer выводит значение в формате из флага --output
type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, flags *globalFlags) *printer {
	return &printer{w: w, format: strings.ToLower(flags.output)}
}

// emit пишет v как JSON или YAML; для text вызывает text
func (p *printer) emit(v any, text func(w io.Writer)) error {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
		tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
		text(tw)
		return tw.Flush()
	}
	return apperror.Newf(apperror.CodeInvalidArgument, "unknown output format %q", p.format)
}

// isDeck true для файлов колод ECLIPSE
func isDeck(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".data", ".inc", ".grdecl":
		return true
	}
	return false
}

// loadRequest читает запрос из YAML/JSON или из колоды
func loadRequest(path string) (*domain.SimRequest, error) {
	if !isDeck(path) {
		return domain.LoadRequest(path)
	}
	req, res, err := deck.ParseRequestFile(path)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, apperror.Newf(apperror.CodeDeckSyntax, "deck %s has %d format errors, first: %s",
			path, len(res.Errors), res.Errors[0].Message)
	}
	return req, nil
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}
