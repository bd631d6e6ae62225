package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"brook/internal/globs"
	"brook/internal/logging"
	"brook/internal/task"
	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// Stage reads Src under Root, applies Steps and writes to Dest.
type Stage struct {
	Name string
	// Root is the directory Src, Base and Dest are relative to.
	Root string
	Src  []string
	// Base is stripped from source paths before they are written to Dest.
	// Defaults to the static prefix of the first Src pattern.
	Base  string
	Steps []Step
	Dest  string
	// Concurrency bounds how many files are processed at once.
	Concurrency int
	Logger      *logging.Logger
}

// Unit returns the stage as a stream-style task unit.
func (s Stage) Unit() *task.Unit {
	return task.Streamed(s.Name, func(ctx context.Context) task.Stream {
		return s.Start(ctx)
	})
}

// Start begins one invocation of the stage and returns its stream.
func (s Stage) Start(ctx context.Context) *Run {
	run := &Run{
		end:     make(chan struct{}),
		errs:    make(chan error, 1),
		outputs: map[string]uint64{},
	}
	go run.execute(ctx, s)
	return run
}

// Failed returns a run that has already failed with err, for stages that
// cannot be set up.
func Failed(err error) *Run {
	run := &Run{end: make(chan struct{}), errs: make(chan error, 1)}
	run.errs <- err
	return run
}

// Run is a single invocation of a stage.
type Run struct {
	end     chan struct{}
	errs    chan error
	read    atomic.Int64
	written atomic.Int64
	bytes   atomic.Int64

	outputsMu sync.Mutex
	outputs   map[string]uint64
}

// ErrConflictingOutput is returned when one run produces two different files
// for the same destination path.
var ErrConflictingOutput = errors.New("pipeline: conflicting outputs")

func (r *Run) End() <-chan struct{} {
	return r.end
}

func (r *Run) Errors() <-chan error {
	return r.errs
}

// Written reports how many files the run wrote so far.
func (r *Run) Written() int64 {
	return r.written.Load()
}

func (r *Run) execute(parent context.Context, stage Stage) {
	logger := stage.Logger.Category("pipeline").With(map[string]string{"stage": stage.Name})
	err := r.process(parent, stage)
	if err != nil {
		logger.Debug("stage failed", map[string]string{"error": err.Error()})
		r.errs <- err
		return
	}
	logger.Debug("stage finished", map[string]string{
		"read":    strconv.FormatInt(r.read.Load(), 10),
		"written": strconv.FormatInt(r.written.Load(), 10),
		"size":    humanize.Bytes(uint64(r.bytes.Load())),
	})
	close(r.end)
}

func (r *Run) process(parent context.Context, stage Stage) error {
	if stage.Dest == "" {
		return errors.New("pipeline: destination is required")
	}
	matcher, err := globs.Compile(stage.Src...)
	if err != nil {
		return err
	}
	root := stage.Root
	if root == "" {
		root = "."
	}
	base := stage.Base
	if base == "" {
		base = globs.Base(stage.Src[0])
	}
	sources, err := Collect(root, matcher)
	if err != nil {
		return err
	}

	limit := stage.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	group, ctx := errgroup.WithContext(parent)
	group.SetLimit(limit)
	for _, rel := range sources {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			file, err := ReadFile(root, base, rel)
			if err != nil {
				return err
			}
			r.read.Add(1)
			outputs, err := applySteps(ctx, stage.Steps, file)
			if err != nil {
				return err
			}
			for _, output := range outputs {
				if err := ctx.Err(); err != nil {
					return err
				}
				fresh, err := r.claim(output)
				if err != nil {
					return err
				}
				if !fresh {
					continue
				}
				if err := WriteFile(filepath.Join(root, stage.Dest), output); err != nil {
					return err
				}
				r.written.Add(1)
				r.bytes.Add(int64(len(output.Contents)))
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return parent.Err()
}

// claim records output for this run. Identical duplicates are skipped; a
// different file for an already claimed path is an error.
func (r *Run) claim(output *File) (bool, error) {
	sum := xxhash.Sum64(output.Contents)
	r.outputsMu.Lock()
	defer r.outputsMu.Unlock()
	previous, ok := r.outputs[output.Path]
	if !ok {
		r.outputs[output.Path] = sum
		return true, nil
	}
	if previous != sum {
		return false, fmt.Errorf("%w: %s", ErrConflictingOutput, output.Path)
	}
	return false, nil
}

// Collect returns the slash-separated paths under root matched by matcher,
// sorted. Only the static prefixes of the patterns are walked; literal
// patterns are checked directly.
func Collect(root string, matcher *globs.Set) ([]string, error) {
	seen := map[string]struct{}{}
	for _, base := range matcher.Bases() {
		dir := filepath.Join(root, filepath.FromSlash(base))
		info, err := os.Stat(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("pipeline: stat %s: %w", dir, err)
		}
		if !info.IsDir() {
			continue
		}
		err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if matcher.Match(rel) {
				seen[rel] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: walk %s: %w", dir, err)
		}
	}
	for _, file := range matcher.Files() {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(file)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("pipeline: stat %s: %w", file, err)
		}
		if !info.IsDir() && matcher.Match(file) {
			seen[file] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for rel := range seen {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadFile loads root/rel into a File whose Path is relative to base.
func ReadFile(root, base, rel string) (*File, error) {
	source := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", rel, err)
	}
	contents, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", rel, err)
	}
	path := rel
	if base != "" && base != "." {
		if trimmed, err := filepath.Rel(filepath.FromSlash(base), filepath.FromSlash(rel)); err == nil && !isParentRel(trimmed) {
			path = filepath.ToSlash(trimmed)
		}
	}
	return &File{
		Path:     cleanRel(path),
		Source:   source,
		Contents: contents,
		Mode:     info.Mode().Perm(),
		ModTime:  info.ModTime(),
	}, nil
}

// WriteFile writes file under dest, creating directories as needed.
func WriteFile(dest string, file *File) error {
	target := filepath.Join(dest, filepath.FromSlash(file.Path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("pipeline: write %s: %w", file.Path, err)
	}
	mode := file.Mode
	if mode == 0 {
		mode = defaultFileMode
	}
	if err := os.WriteFile(target, file.Contents, mode); err != nil {
		return fmt.Errorf("pipeline: write %s: %w", file.Path, err)
	}
	return nil
}

// Remove deletes each directory under root. Missing directories are ignored.
func Remove(root string, dirs ...string) error {
	var errs []error
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		target := filepath.Join(root, dir)
		if filepath.Clean(target) == filepath.Clean(root) {
			errs = append(errs, fmt.Errorf("pipeline: refusing to remove project root %s", target))
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: remove %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

func isParentRel(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}
