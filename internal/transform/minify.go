package transform

import (
	"context"
	"fmt"
	"regexp"

	"brook/internal/pipeline"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

const (
	mediaCSS  = "text/css"
	mediaJS   = "application/javascript"
	mediaHTML = "text/html"
)

// Minifier shrinks css, js and html documents.
type Minifier struct {
	m *minify.M
}

func NewMinifier() *Minifier {
	m := minify.New()
	m.AddFunc(mediaCSS, css.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	m.Add(mediaHTML, &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	return &Minifier{m: m}
}

// Bytes minifies contents of the given media type.
func (minifier *Minifier) Bytes(mediaType string, contents []byte) ([]byte, error) {
	return minifier.m.Bytes(mediaType, contents)
}

func (minifier *Minifier) step(name, mediaType string) pipeline.Step {
	return pipeline.Map(name, func(_ context.Context, file *pipeline.File) (*pipeline.File, error) {
		out, err := minifier.Bytes(mediaType, file.Contents)
		if err != nil {
			return nil, fmt.Errorf("minify %s: %w", mediaType, err)
		}
		next := file.Clone()
		next.Contents = out
		return next, nil
	})
}

func (minifier *Minifier) CSS() pipeline.Step {
	return minifier.step("minify-css", mediaCSS)
}

func (minifier *Minifier) JS() pipeline.Step {
	return minifier.step("minify-js", mediaJS)
}

func (minifier *Minifier) HTML() pipeline.Step {
	return minifier.step("minify-html", mediaHTML)
}

// ByExt minifies .css, .js and .html files and passes anything else through.
func (minifier *Minifier) ByExt() pipeline.Step {
	return ByExt("minify", map[string]pipeline.Step{
		".css":  minifier.CSS(),
		".js":   minifier.JS(),
		".mjs":  minifier.JS(),
		".html": minifier.HTML(),
		".htm":  minifier.HTML(),
	})
}
