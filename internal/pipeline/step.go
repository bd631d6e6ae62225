package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"brook/internal/task"
)

// StepFunc transforms one file. Returning a nil file drops it from the stream.
type StepFunc func(ctx context.Context, file *File) (*File, error)

// ExpandFunc transforms one file into any number of files.
type ExpandFunc func(ctx context.Context, file *File) ([]*File, error)

// Step is a named transformation applied to every file of a stage.
type Step struct {
	Name  string
	apply ExpandFunc
}

// Map wraps fn as a one-to-one step.
func Map(name string, fn StepFunc) Step {
	return Step{
		Name: name,
		apply: func(ctx context.Context, file *File) ([]*File, error) {
			next, err := fn(ctx, file)
			if err != nil || next == nil {
				return nil, err
			}
			return []*File{next}, nil
		},
	}
}

// Expand wraps fn as a one-to-many step.
func Expand(name string, fn ExpandFunc) Step {
	return Step{Name: name, apply: fn}
}

// Apply runs the step on file. Errors come back as *StepError, and so does a
// panic raised by the step, wrapping a *task.PanicError.
func (s Step) Apply(ctx context.Context, file *File) (out []*File, err error) {
	if s.apply == nil {
		return []*File{file}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &StepError{Step: s.Name, Path: file.Path, Err: &task.PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()
	out, err = s.apply(ctx, file)
	if err != nil {
		return nil, &StepError{Step: s.Name, Path: file.Path, Err: err}
	}
	return out, nil
}

// StepError reports a transformation failure on a specific file.
type StepError struct {
	Step string
	Path string
	Err  error
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("pipeline: step %s failed on %s: %v", e.Step, e.Path, e.Err)
}

func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func applySteps(ctx context.Context, steps []Step, file *File) ([]*File, error) {
	current := []*File{file}
	for _, step := range steps {
		next := make([]*File, 0, len(current))
		for _, candidate := range current {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := step.Apply(ctx, candidate)
			if err != nil {
				return nil, err
			}
			for _, produced := range out {
				if produced != nil {
					next = append(next, produced)
				}
			}
		}
		if len(next) == 0 {
			return nil, nil
		}
		current = next
	}
	return current, nil
}
