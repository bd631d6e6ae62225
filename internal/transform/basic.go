package transform

import (
	"context"
	"strings"

	"brook/internal/pipeline"
)

// DropPartials removes files whose name starts with an underscore. Such files
// are only meant to be included by other files.
func DropPartials() pipeline.Step {
	return pipeline.Map("drop-partials", func(_ context.Context, file *pipeline.File) (*pipeline.File, error) {
		if strings.HasPrefix(file.Basename(), "_") {
			return nil, nil
		}
		return file, nil
	})
}

// RenameExt changes the extension from one value to another. Files with a
// different extension pass through unchanged.
func RenameExt(from, to string) pipeline.Step {
	return pipeline.Map("rename "+from+"->"+to, func(_ context.Context, file *pipeline.File) (*pipeline.File, error) {
		if !strings.EqualFold(file.Ext(), from) {
			return file, nil
		}
		return file.WithExt(to), nil
	})
}

// Passthrough forwards every file untouched. Used where a real compiler or
// optimizer can be plugged in later.
func Passthrough(name string) pipeline.Step {
	return pipeline.Map(name, func(_ context.Context, file *pipeline.File) (*pipeline.File, error) {
		return file, nil
	})
}

// ByExt applies the step registered for a file's extension; other files pass
// through.
func ByExt(name string, steps map[string]pipeline.Step) pipeline.Step {
	normalized := make(map[string]pipeline.Step, len(steps))
	for ext, step := range steps {
		normalized[strings.ToLower(ext)] = step
	}
	return pipeline.Expand(name, func(ctx context.Context, file *pipeline.File) ([]*pipeline.File, error) {
		step, ok := normalized[strings.ToLower(file.Ext())]
		if !ok {
			return []*pipeline.File{file}, nil
		}
		return step.Apply(ctx, file)
	})
}
