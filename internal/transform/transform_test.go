package transform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"brook/internal/pipeline"
)

func applyOne(t *testing.T, step pipeline.Step, file *pipeline.File) []*pipeline.File {
	t.Helper()
	out, err := step.Apply(context.Background(), file)
	if err != nil {
		t.Fatalf("apply %s: %v", step.Name, err)
	}
	return out
}

func TestDropPartials(t *testing.T) {
	if out := applyOne(t, DropPartials(), pipeline.NewFile("styles/_vars.scss", nil)); len(out) != 0 {
		t.Fatalf("expected partial to be dropped, got %d files", len(out))
	}
	if out := applyOne(t, DropPartials(), pipeline.NewFile("styles/main.scss", nil)); len(out) != 1 {
		t.Fatalf("expected main to pass, got %d files", len(out))
	}
}

func TestRenameExt(t *testing.T) {
	out := applyOne(t, RenameExt(".scss", ".css"), pipeline.NewFile("styles/main.scss", nil))
	if out[0].Path != "styles/main.css" {
		t.Fatalf("expected renamed path, got %q", out[0].Path)
	}
	out = applyOne(t, RenameExt(".scss", ".css"), pipeline.NewFile("styles/plain.css", nil))
	if out[0].Path != "styles/plain.css" {
		t.Fatalf("expected untouched path, got %q", out[0].Path)
	}
}

func TestTemplateRendersData(t *testing.T) {
	page := pipeline.NewFile("index.html", []byte(`<title>{{ .pkg.name | upper }}</title><p>{{ len .pages }}</p>`))
	data := map[string]any{
		"pkg":   map[string]any{"name": "brook"},
		"pages": []any{"index", "about"},
	}
	out := applyOne(t, Template(data), page)
	if got := string(out[0].Contents); got != "<title>BROOK</title><p>2</p>" {
		t.Fatalf("unexpected render %q", got)
	}
	if string(page.Contents) == string(out[0].Contents) {
		t.Fatal("expected source file to stay untouched")
	}
}

func TestTemplateKeepsBuildComments(t *testing.T) {
	source := "<!-- build:css styles/app.css --><link href=\"a.css\"><!-- endbuild -->"
	out := applyOne(t, Template(nil), pipeline.NewFile("index.html", []byte(source)))
	if got := string(out[0].Contents); got != source {
		t.Fatalf("expected comments preserved, got %q", got)
	}
}

func TestTemplateParseErrorIsStepError(t *testing.T) {
	_, err := Template(nil).Apply(context.Background(), pipeline.NewFile("broken.html", []byte("{{ .x ")))
	var stepErr *pipeline.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected step error, got %v", err)
	}
	if stepErr.Path != "broken.html" {
		t.Fatalf("expected path broken.html, got %q", stepErr.Path)
	}
}

func TestMinifyByExt(t *testing.T) {
	step := NewMinifier().ByExt()
	css := applyOne(t, step, pipeline.NewFile("a.css", []byte("body {\n  color: red;\n}\n")))
	if got := string(css[0].Contents); got != "body{color:red}" {
		t.Fatalf("unexpected css %q", got)
	}
	js := applyOne(t, step, pipeline.NewFile("a.js", []byte("var  answer = 42 ;\n\n")))
	if strings.Contains(string(js[0].Contents), "\n") {
		t.Fatalf("expected js newlines removed, got %q", js[0].Contents)
	}
	png := applyOne(t, step, pipeline.NewFile("a.png", []byte{0x89, 'P', 'N', 'G'}))
	if len(png[0].Contents) != 4 {
		t.Fatal("expected binary file untouched")
	}
}

func TestUserefConcatenatesBlocks(t *testing.T) {
	temp := t.TempDir()
	root := t.TempDir()
	mustWrite(t, filepath.Join(temp, "styles", "main.css"), "main{}")
	mustWrite(t, filepath.Join(root, "node_modules", "lib", "lib.css"), "lib{}")
	mustWrite(t, filepath.Join(temp, "scripts", "main.js"), "main()")

	html := `<html><head>
<!-- build:css styles/vendor.css -->
<link rel="stylesheet" href="/node_modules/lib/lib.css">
<link rel="stylesheet" href="styles/main.css">
<!-- endbuild -->
</head><body>
<!-- build:js scripts/app.js -->
<script src="scripts/main.js"></script>
<!-- endbuild -->
</body></html>`

	out := applyOne(t, Useref(temp, root), pipeline.NewFile("index.html", []byte(html)))
	if len(out) != 3 {
		t.Fatalf("expected page and two assets, got %d", len(out))
	}
	page := string(out[0].Contents)
	if !strings.Contains(page, `<link rel="stylesheet" href="styles/vendor.css">`) {
		t.Fatalf("expected css block rewritten, got %s", page)
	}
	if !strings.Contains(page, `<script src="scripts/app.js"></script>`) {
		t.Fatalf("expected js block rewritten, got %s", page)
	}
	if strings.Contains(page, "build:") {
		t.Fatalf("expected build comments removed, got %s", page)
	}
	if out[1].Path != "styles/vendor.css" || string(out[1].Contents) != "lib{}\nmain{}" {
		t.Fatalf("unexpected css asset %q: %q", out[1].Path, out[1].Contents)
	}
	if out[2].Path != "scripts/app.js" || string(out[2].Contents) != "main()" {
		t.Fatalf("unexpected js asset %q: %q", out[2].Path, out[2].Contents)
	}
}

func TestUserefSearchPathOrder(t *testing.T) {
	temp := t.TempDir()
	root := t.TempDir()
	mustWrite(t, filepath.Join(temp, "a.css"), "from-temp")
	mustWrite(t, filepath.Join(root, "a.css"), "from-root")

	html := `<!-- build:css all.css --><link href="a.css"><!-- endbuild -->`
	out := applyOne(t, Useref(temp, root), pipeline.NewFile("index.html", []byte(html)))
	if string(out[1].Contents) != "from-temp" {
		t.Fatalf("expected staging tree to win, got %q", out[1].Contents)
	}
}

func TestUserefMissingAsset(t *testing.T) {
	html := `<!-- build:js app.js --><script src="missing.js"></script><!-- endbuild -->`
	_, err := Useref(t.TempDir()).Apply(context.Background(), pipeline.NewFile("index.html", []byte(html)))
	if !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected missing asset error, got %v", err)
	}
}

func TestUserefLeavesOtherFiles(t *testing.T) {
	out := applyOne(t, Useref(), pipeline.NewFile("styles/main.css", []byte("a{}")))
	if len(out) != 1 || string(out[0].Contents) != "a{}" {
		t.Fatal("expected non-html file untouched")
	}
}

func mustWrite(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
