// Package build registers the conventional asset tasks of a project.
package build

import (
	"context"
	"errors"
	"path/filepath"
	"sort"

	"brook/internal/config"
	"brook/internal/logging"
	"brook/internal/metrics"
	"brook/internal/pipeline"
	"brook/internal/shell"
	"brook/internal/task"
	"brook/internal/transform"
)

// Options configure the task set. Style, Script and Optimize replace the
// default passthrough steps of the style, script, image and font tasks. Style
// steps see partials already dropped and run before .scss becomes .css.
type Options struct {
	Config   config.Config
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	Style    []pipeline.Step
	Script   []pipeline.Step
	Optimize []pipeline.Step
	Minifier *transform.Minifier
}

// Project holds the units built for one configuration.
type Project struct {
	cfg     config.Config
	logger  *logging.Logger
	metrics *metrics.Registry
	options Options

	Clean   *task.Unit
	Style   *task.Unit
	Script  *task.Unit
	Page    *task.Unit
	Image   *task.Unit
	Font    *task.Unit
	Extra   *task.Unit
	Compile *task.Unit
	Useref  *task.Unit
	Build   *task.Unit
	Serve   *task.Unit
	Develop *task.Unit
}

// New builds the task units for options.Config.
func New(options Options) (*Project, error) {
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}
	if options.Minifier == nil {
		options.Minifier = transform.NewMinifier()
	}
	project := &Project{
		cfg:     options.Config,
		logger:  options.Logger,
		metrics: options.Metrics,
		options: options,
	}

	project.Clean = task.Func("clean", project.clean)
	project.Style = project.stage(pipeline.Stage{
		Name:  "style",
		Src:   project.cfg.SrcGlobs(project.cfg.Globs.Styles),
		Base:  project.cfg.Paths.Src,
		Steps: styleSteps(options.Style),
		Dest:  project.cfg.Paths.Temp,
	}).Unit()
	project.Script = project.stage(pipeline.Stage{
		Name:  "script",
		Src:   project.cfg.SrcGlobs(project.cfg.Globs.Scripts),
		Base:  project.cfg.Paths.Src,
		Steps: stepsOr(options.Script, transform.Passthrough("script")),
		Dest:  project.cfg.Paths.Temp,
	}).Unit()
	project.Page = task.Streamed("page", project.page)
	project.Image = project.stage(pipeline.Stage{
		Name:  "image",
		Src:   project.cfg.SrcGlobs(project.cfg.Globs.Images),
		Base:  project.cfg.Paths.Src,
		Steps: stepsOr(options.Optimize, transform.Passthrough("optimize")),
		Dest:  project.cfg.Paths.Dist,
	}).Unit()
	project.Font = project.stage(pipeline.Stage{
		Name:  "font",
		Src:   project.cfg.SrcGlobs(project.cfg.Globs.Fonts),
		Base:  project.cfg.Paths.Src,
		Steps: stepsOr(options.Optimize, transform.Passthrough("optimize")),
		Dest:  project.cfg.Paths.Dist,
	}).Unit()
	project.Extra = project.stage(pipeline.Stage{
		Name: "extra",
		Src:  []string{filepath.ToSlash(filepath.Join(project.cfg.Paths.Public, "**"))},
		Base: project.cfg.Paths.Public,
		Dest: project.cfg.Paths.Dist,
	}).Unit()

	project.Compile = task.Named("compile", task.Parallel(project.Style, project.Script, project.Page))
	project.Useref = project.stage(pipeline.Stage{
		Name: "useref",
		Src:  []string{filepath.ToSlash(filepath.Join(project.cfg.Paths.Temp, "*.html"))},
		Base: project.cfg.Paths.Temp,
		Steps: []pipeline.Step{
			transform.Useref(project.cfg.Path(project.cfg.Paths.Temp), project.cfg.Path(".")),
			options.Minifier.ByExt(),
		},
		Dest: project.cfg.Paths.Dist,
	}).Unit()
	project.Build = task.Named("build", task.Series(
		project.Clean,
		task.Parallel(
			task.Series(project.Compile, project.Useref),
			project.Image,
			project.Font,
			project.Extra,
		),
	))
	project.Serve = task.Func("serve", project.serve)
	project.Develop = task.Named("develop", task.Series(project.Compile, project.Serve))
	return project, nil
}

// Register adds every built-in task and then the configured command tasks to
// registry. A command task may replace a built-in of the same name.
func (p *Project) Register(registry *task.Registry) error {
	builtins := []*task.Unit{
		p.Clean, p.Style, p.Script, p.Page, p.Image, p.Font, p.Extra,
		p.Compile, p.Useref, p.Build, p.Serve, p.Develop,
	}
	var errs []error
	for _, unit := range builtins {
		errs = append(errs, registry.Register(unit.Name(), unit))
	}
	errs = append(errs, registry.Register(task.DefaultTask, p.Build))

	names := make([]string, 0, len(p.cfg.Tasks))
	for name := range p.cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		errs = append(errs, registry.Register(name, p.command(name, p.cfg.Tasks[name])))
	}
	return errors.Join(errs...)
}

// Registry returns a new registry holding the project's tasks.
func (p *Project) Registry() (*task.Registry, error) {
	registry := task.NewRegistry()
	if err := p.Register(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

func (p *Project) stage(stage pipeline.Stage) pipeline.Stage {
	stage.Root = p.cfg.Path(".")
	stage.Concurrency = p.cfg.Build.Concurrency
	stage.Logger = p.logger
	return stage
}

func (p *Project) clean(context.Context) error {
	return pipeline.Remove(p.cfg.Path("."), p.cfg.Paths.Dist, p.cfg.Paths.Temp)
}

// page reloads the template data on every run so edits to the data file show
// up while serving.
func (p *Project) page(ctx context.Context) task.Stream {
	data, err := p.cfg.LoadPageData()
	if err != nil {
		return pipeline.Failed(err)
	}
	return p.stage(pipeline.Stage{
		Name:  "page",
		Src:   p.cfg.SrcGlobs(p.cfg.Globs.Pages),
		Base:  p.cfg.Paths.Src,
		Steps: []pipeline.Step{transform.Template(data)},
		Dest:  p.cfg.Paths.Temp,
	}).Start(ctx)
}

func (p *Project) command(name string, command config.CommandTask) *task.Unit {
	dir := command.Dir
	if dir == "" {
		dir = "."
	}
	return shell.Command{
		Name:   name,
		Line:   command.Command,
		Dir:    p.cfg.Path(dir),
		Logger: p.logger,
	}.Unit()
}

func styleSteps(compile []pipeline.Step) []pipeline.Step {
	steps := []pipeline.Step{transform.DropPartials()}
	steps = append(steps, stepsOr(compile, transform.Passthrough("style"))...)
	return append(steps, transform.RenameExt(".scss", ".css"))
}

func stepsOr(steps []pipeline.Step, fallback pipeline.Step) []pipeline.Step {
	if len(steps) > 0 {
		return steps
	}
	return []pipeline.Step{fallback}
}
