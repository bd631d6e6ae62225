package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"brook"
)

func readDefaults(t *testing.T) []byte {
	t.Helper()
	payload, err := fs.ReadFile(brook.EmbeddedConfigFS, brook.DefaultConfigPath)
	if err != nil {
		t.Fatalf("read defaults: %v", err)
	}
	return payload
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", readDefaults(t), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Paths.Src != "src" || cfg.Paths.Temp != "temp" || cfg.Paths.Dist != "dist" || cfg.Paths.Public != "public" {
		t.Fatalf("unexpected paths %+v", cfg.Paths)
	}
	if len(cfg.Globs.Styles) != 1 || cfg.Globs.Styles[0] != "assets/styles/**/*.scss" {
		t.Fatalf("unexpected style globs %v", cfg.Globs.Styles)
	}
	if cfg.Server.Port != 2080 || cfg.Server.ReloadWindowMS != 200 {
		t.Fatalf("unexpected server %+v", cfg.Server)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log %+v", cfg.Log)
	}
	if cfg.Pages.DataFile != "brook.data.yaml" {
		t.Fatalf("unexpected data file %q", cfg.Pages.DataFile)
	}
	if len(cfg.Tasks) != 0 {
		t.Fatalf("expected no command tasks, got %v", cfg.Tasks)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	payload := `[paths]
src = "app"
dist = "build"

[globs]
pages = ["**/*.html", "!partials/**"]

[tasks.lint]
command = "eslint app"
dir = "tools"
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, readDefaults(t), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Paths.Src != "app" || cfg.Paths.Dist != "build" || cfg.Paths.Temp != "temp" {
		t.Fatalf("unexpected paths %+v", cfg.Paths)
	}
	if len(cfg.Globs.Pages) != 2 {
		t.Fatalf("unexpected page globs %v", cfg.Globs.Pages)
	}
	lint, ok := cfg.Tasks["lint"]
	if !ok || lint.Command != "eslint app" || lint.Dir != "tools" {
		t.Fatalf("unexpected lint task %+v", cfg.Tasks)
	}
}

func TestLoadOverridesWin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("[server]\nport = 3000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path, readDefaults(t), map[string]any{"Server.Port": int64(5000)})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Fatalf("expected override to win, got %d", cfg.Server.Port)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"), readDefaults(t), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Paths.Dist != "dist" {
		t.Fatalf("expected default dist, got %q", cfg.Paths.Dist)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	_, err := Load("", readDefaults(t), map[string]any{
		"paths.temp":  "out",
		"paths.dist":  "out",
		"server.port": int64(70000),
		"log.format":  "xml",
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, fragment := range []string{"must differ", "out of range", "text or json"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in %v", fragment, err)
		}
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("[paths\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path, readDefaults(t), nil); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSrcGlobs(t *testing.T) {
	cfg := Config{Paths: Paths{Src: "src"}}
	got := cfg.SrcGlobs([]string{"assets/**/*.js", "!assets/vendor/**"})
	if got[0] != "src/assets/**/*.js" || got[1] != "!src/assets/vendor/**" {
		t.Fatalf("unexpected globs %v", got)
	}
}

func TestLoadPageData(t *testing.T) {
	root := t.TempDir()
	payload := "pkg:\n  name: brook\nmenus:\n  - title: Home\n    link: index.html\n"
	if err := os.WriteFile(filepath.Join(root, "brook.data.yaml"), []byte(payload), 0o644); err != nil {
		t.Fatalf("write data: %v", err)
	}
	cfg := Config{Root: root, Pages: Pages{DataFile: "brook.data.yaml"}}
	data, err := cfg.LoadPageData()
	if err != nil {
		t.Fatalf("load data: %v", err)
	}
	pkg, ok := data["pkg"].(map[string]any)
	if !ok || pkg["name"] != "brook" {
		t.Fatalf("unexpected data %v", data)
	}
	if menus, ok := data["menus"].([]any); !ok || len(menus) != 1 {
		t.Fatalf("unexpected menus %v", data["menus"])
	}

	cfg.Pages.DataFile = "missing.yaml"
	data, err = cfg.LoadPageData()
	if err != nil || len(data) != 0 {
		t.Fatalf("expected empty data for missing file, got %v, %v", data, err)
	}
}

func TestSchemaDescribesSections(t *testing.T) {
	payload, err := SchemaJSON()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	text := string(payload)
	for _, key := range []string{`"paths"`, `"reload-window-ms"`, `"data-file"`, `"tasks"`} {
		if !strings.Contains(text, key) {
			t.Fatalf("expected %s in schema", key)
		}
	}
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	defaults := readDefaults(t)
	path, err := WriteDefault(dir, defaults, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if _, err := WriteDefault(dir, defaults, false); !errors.Is(err, ErrConfigExists) {
		t.Fatalf("expected exists error, got %v", err)
	}
	if _, err := WriteDefault(dir, defaults, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	if _, err := Load(path, defaults, nil); err != nil {
		t.Fatalf("load written config: %v", err)
	}
}
