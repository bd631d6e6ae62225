package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"brook/internal/task"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, contents := range files {
		target := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(target, []byte(contents), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		files[filepath.ToSlash(rel)] = string(contents)
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read tree: %v", err)
	}
	return files
}

func upper() Step {
	return Map("upper", func(_ context.Context, file *File) (*File, error) {
		next := file.Clone()
		next.Contents = bytes.ToUpper(file.Contents)
		return next, nil
	})
}

func TestStageCopiesAndTransforms(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"app/styles/main.scss":       "body",
		"app/styles/deep/theme.scss": "theme",
		"app/styles/_partial.scss":   "partial",
		"app/scripts/ignored.js":     "js",
	})

	dropPartials := Map("partials", func(_ context.Context, file *File) (*File, error) {
		if strings.HasPrefix(file.Basename(), "_") {
			return nil, nil
		}
		return file, nil
	})
	rename := Map("rename", func(_ context.Context, file *File) (*File, error) {
		return file.WithExt(".css"), nil
	})

	stage := Stage{
		Name:  "style",
		Root:  root,
		Src:   []string{"app/styles/**/*.scss"},
		Base:  "app",
		Steps: []Step{dropPartials, rename, upper()},
		Dest:  ".tmp",
	}
	if err := stage.Unit().Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := readTree(t, filepath.Join(root, ".tmp"))
	expected := map[string]string{
		"styles/main.css":       "BODY",
		"styles/deep/theme.css": "THEME",
	}
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for rel, contents := range expected {
		if got[rel] != contents {
			t.Fatalf("%s: expected %q, got %q", rel, contents, got[rel])
		}
	}
}

func TestStageDefaultBaseIsGlobPrefix(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"app/fonts/a/font.woff": "font"})
	stage := Stage{Name: "font", Root: root, Src: []string{"app/fonts/**/*"}, Dest: "dist/fonts"}
	if err := stage.Unit().Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "dist", "fonts", "a", "font.woff")); err != nil {
		t.Fatalf("expected font under dist/fonts: %v", err)
	}
}

func TestStageStepErrorFailsUnit(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"src/a.txt": "a", "src/b.txt": "b"})
	reason := errors.New("bad input")
	broken := Map("broken", func(_ context.Context, file *File) (*File, error) {
		if file.Path == "b.txt" {
			return nil, reason
		}
		return file, nil
	})

	stage := Stage{Name: "copy", Root: root, Src: []string{"src/*.txt"}, Steps: []Step{broken}, Dest: "out", Concurrency: 1}
	err := stage.Unit().Run(context.Background())
	if !errors.Is(err, reason) {
		t.Fatalf("expected step failure, got %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %T", err)
	}
	if stepErr.Step != "broken" || stepErr.Path != "b.txt" {
		t.Fatalf("unexpected step error %+v", stepErr)
	}
	if task.FailedTask(err) != "copy" {
		t.Fatalf("expected failure attributed to copy, got %q", task.FailedTask(err))
	}
}

func TestStagePanickingStepFailsUnit(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"src/main.css": "body {}"})
	boom := Map("boom", func(context.Context, *File) (*File, error) {
		panic("plugin bug")
	})

	stage := Stage{Name: "style", Root: root, Src: []string{"src/*.css"}, Steps: []Step{boom}, Dest: "out"}
	err := stage.Unit().Run(context.Background())
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %v", err)
	}
	if stepErr.Step != "boom" || stepErr.Path != "main.css" {
		t.Fatalf("unexpected step error %+v", stepErr)
	}
	var panicErr *task.PanicError
	if !errors.As(err, &panicErr) || panicErr.Value != "plugin bug" {
		t.Fatalf("expected panic value plugin bug, got %v", err)
	}
	if files := readTree(t, filepath.Join(root, "out")); len(files) != 0 {
		t.Fatalf("expected nothing written, got %v", files)
	}
}

func TestStageFailureLeavesSiblingRunning(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"bad/a.txt": "a", "good/b.txt": "b"})

	failing := Stage{
		Name: "failing", Root: root, Src: []string{"bad/*.txt"}, Dest: "out-bad",
		Steps: []Step{Map("fail", func(context.Context, *File) (*File, error) {
			return nil, errors.New("nope")
		})},
	}
	var sawCancel atomic.Bool
	slow := Stage{
		Name: "slow", Root: root, Src: []string{"good/*.txt"}, Dest: "out-good",
		Steps: []Step{Map("wait", func(ctx context.Context, file *File) (*File, error) {
			time.Sleep(50 * time.Millisecond)
			if ctx.Err() != nil {
				sawCancel.Store(true)
			}
			return file, nil
		})},
	}

	err := task.Parallel(failing.Unit(), slow.Unit()).Run(context.Background())
	if err == nil {
		t.Fatal("expected parallel failure")
	}

	target := filepath.Join(root, "out-good", "b.txt")
	deadline := time.After(2 * time.Second)
	for {
		if _, err := os.Stat(target); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected sibling stage to finish writing")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if sawCancel.Load() {
		t.Fatal("expected sibling stage context not to be cancelled")
	}
}

func TestStageExpandEmitsExtraFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"src/index.html": "<html>"})
	bundle := Expand("bundle", func(_ context.Context, file *File) ([]*File, error) {
		return []*File{file, NewFile("scripts/main.js", []byte("js"))}, nil
	})
	stage := Stage{Name: "useref", Root: root, Src: []string{"src/*.html"}, Steps: []Step{bundle}, Dest: "dist"}
	if err := stage.Unit().Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := readTree(t, filepath.Join(root, "dist"))
	if got["index.html"] != "<html>" || got["scripts/main.js"] != "js" {
		t.Fatalf("unexpected output %v", got)
	}
}

func TestStageWithNoMatchesSucceeds(t *testing.T) {
	root := t.TempDir()
	stage := Stage{Name: "image", Root: root, Src: []string{"app/images/**/*"}, Dest: "dist/images"}
	if err := stage.Unit().Run(context.Background()); err != nil {
		t.Fatalf("expected empty stage to succeed, got %v", err)
	}
}

func TestStageRequiresDest(t *testing.T) {
	stage := Stage{Name: "nowhere", Root: t.TempDir(), Src: []string{"*.txt"}}
	if err := stage.Unit().Run(context.Background()); err == nil {
		t.Fatal("expected missing destination to fail")
	}
}

func TestRemove(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"dist/a.txt": "a", ".tmp/b.txt": "b", "app/c.txt": "c"})
	if err := Remove(root, "dist", ".tmp", "missing"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got := readTree(t, root)
	if len(got) != 1 || got["app/c.txt"] != "c" {
		t.Fatalf("unexpected tree after remove: %v", got)
	}
	if err := Remove(root, "."); err == nil {
		t.Fatal("expected refusing to remove root")
	}
}

func TestStageSkipsIdenticalDuplicateOutputs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"src/a.html": "a", "src/b.html": "b"})
	shared := Expand("shared", func(_ context.Context, file *File) ([]*File, error) {
		return []*File{file, NewFile("scripts/vendor.js", []byte("vendor"))}, nil
	})
	stage := Stage{Name: "useref", Root: root, Src: []string{"src/*.html"}, Steps: []Step{shared}, Dest: "dist"}
	run := stage.Start(context.Background())
	select {
	case <-run.End():
	case err := <-run.Errors():
		t.Fatalf("run: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stage")
	}
	if run.Written() != 3 {
		t.Fatalf("expected 3 writes, got %d", run.Written())
	}
}

func TestStageRejectsConflictingOutputs(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"src/a.html": "a", "src/b.html": "b"})
	conflicting := Map("flatten", func(_ context.Context, file *File) (*File, error) {
		next := file.Clone()
		next.Path = "index.html"
		return next, nil
	})
	stage := Stage{Name: "flatten", Root: root, Src: []string{"src/*.html"}, Steps: []Step{conflicting}, Dest: "dist"}
	if err := stage.Unit().Run(context.Background()); !errors.Is(err, ErrConflictingOutput) {
		t.Fatalf("expected conflicting output error, got %v", err)
	}
}
