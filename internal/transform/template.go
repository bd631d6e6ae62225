package transform

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"brook/internal/pipeline"
	"github.com/Masterminds/sprig/v3"
)

// Template renders each file as a text/template with data as its dot value.
// Markup comments survive rendering, so build blocks reach Useref intact.
// The sprig function set is available to templates.
func Template(data map[string]any) pipeline.Step {
	if data == nil {
		data = map[string]any{}
	}
	return pipeline.Map("template", func(_ context.Context, file *pipeline.File) (*pipeline.File, error) {
		parsed, err := template.New(file.Path).
			Funcs(sprig.TxtFuncMap()).
			Parse(string(file.Contents))
		if err != nil {
			return nil, fmt.Errorf("parse template: %w", err)
		}
		var out bytes.Buffer
		if err := parsed.Execute(&out, data); err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		next := file.Clone()
		next.Contents = out.Bytes()
		return next, nil
	})
}
