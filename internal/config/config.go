package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"brook/internal/config/tomlkeys"
)

// FileName is the project configuration file looked up in the project root.
const FileName = "brook.toml"

type Config struct {
	// Root is the project directory every relative path resolves against.
	Root   string                 `json:"-" toml:"-"`
	Paths  Paths                  `json:"paths" toml:"paths"`
	Globs  Globs                  `json:"globs" toml:"globs"`
	Server Server                 `json:"server" toml:"server"`
	Watch  Watch                  `json:"watch" toml:"watch"`
	Build  Build                  `json:"build" toml:"build"`
	Pages  Pages                  `json:"pages" toml:"pages"`
	Log    Log                    `json:"log" toml:"log"`
	Tasks  map[string]CommandTask `json:"tasks,omitempty" toml:"tasks,omitempty"`
}

type Paths struct {
	Src    string `json:"src" toml:"src" jsonschema:"description=Source tree"`
	Temp   string `json:"temp" toml:"temp" jsonschema:"description=Staging tree written by compile tasks"`
	Dist   string `json:"dist" toml:"dist" jsonschema:"description=Distributable output tree"`
	Public string `json:"public" toml:"public" jsonschema:"description=Static files copied to dist as is"`
}

// Globs are relative to Paths.Src.
type Globs struct {
	Styles  []string `json:"styles" toml:"styles"`
	Scripts []string `json:"scripts" toml:"scripts"`
	Pages   []string `json:"pages" toml:"pages"`
	Images  []string `json:"images" toml:"images"`
	Fonts   []string `json:"fonts" toml:"fonts"`
}

type Server struct {
	Host           string `json:"host" toml:"host"`
	Port           int    `json:"port" toml:"port" jsonschema:"minimum=0,maximum=65535"`
	OpenPath       string `json:"open-path" toml:"open-path"`
	ReloadWindowMS int64  `json:"reload-window-ms" toml:"reload-window-ms" jsonschema:"minimum=0"`
}

type Watch struct {
	DebounceMS int64 `json:"debounce-ms" toml:"debounce-ms" jsonschema:"minimum=0"`
	MaxWatches int   `json:"max-watches" toml:"max-watches" jsonschema:"minimum=1"`
}

type Build struct {
	Concurrency int `json:"concurrency" toml:"concurrency" jsonschema:"minimum=0"`
}

type Pages struct {
	DataFile string `json:"data-file" toml:"data-file" jsonschema:"description=YAML file whose contents are the page template data"`
}

type Log struct {
	Level  string `json:"level" toml:"level" jsonschema:"enum=debug,enum=info,enum=warning,enum=error"`
	Format string `json:"format" toml:"format" jsonschema:"enum=text,enum=json"`
}

// CommandTask is a shell command registered as a task.
type CommandTask struct {
	Command string `json:"command" toml:"command"`
	Dir     string `json:"dir,omitempty" toml:"dir,omitempty"`
}

// Load reads defaults, then the file at path when it exists, then overrides.
// Override keys use the dotted form, e.g. "server.port".
func Load(path string, defaultsPayload []byte, overrides map[string]any) (Config, error) {
	store, err := loadStore(path, defaultsPayload, overrides)
	if err != nil {
		return Config{}, err
	}
	cfg := fromStore(store)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFlat returns the merged flattened values Load would decode.
func LoadFlat(path string, defaultsPayload []byte, overrides map[string]any) (map[string]any, error) {
	store, err := loadStore(path, defaultsPayload, overrides)
	if err != nil {
		return nil, err
	}
	return store.Flat(), nil
}

func loadStore(path string, defaultsPayload []byte, overrides map[string]any) (tomlkeys.Store, error) {
	defaultsStore, err := tomlkeys.Decode(defaultsPayload)
	if err != nil {
		return tomlkeys.Store{}, fmt.Errorf("config: decode defaults: %w", err)
	}
	values := defaultsStore.Flat()

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return tomlkeys.Store{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			store, err := tomlkeys.Decode(payload)
			if err != nil {
				return tomlkeys.Store{}, fmt.Errorf("config: decode %s: %w", path, err)
			}
			for key, value := range store.Flat() {
				values[key] = value
			}
		}
	}

	for key, value := range overrides {
		normalized := tomlkeys.NormalizeKey(key)
		if normalized == "" {
			continue
		}
		values[normalized] = value
	}
	return tomlkeys.FromFlat(values), nil
}

func fromStore(store tomlkeys.Store) Config {
	cfg := Config{}
	cfg.Paths.Src = stringSetting(store, "paths.src")
	cfg.Paths.Temp = stringSetting(store, "paths.temp")
	cfg.Paths.Dist = stringSetting(store, "paths.dist")
	cfg.Paths.Public = stringSetting(store, "paths.public")

	cfg.Globs.Styles = stringsSetting(store, "globs.styles")
	cfg.Globs.Scripts = stringsSetting(store, "globs.scripts")
	cfg.Globs.Pages = stringsSetting(store, "globs.pages")
	cfg.Globs.Images = stringsSetting(store, "globs.images")
	cfg.Globs.Fonts = stringsSetting(store, "globs.fonts")

	cfg.Server.Host = stringSetting(store, "server.host")
	cfg.Server.Port = int(intSetting(store, "server.port"))
	cfg.Server.OpenPath = stringSetting(store, "server.open-path")
	cfg.Server.ReloadWindowMS = intSetting(store, "server.reload-window-ms")

	cfg.Watch.DebounceMS = intSetting(store, "watch.debounce-ms")
	cfg.Watch.MaxWatches = int(intSetting(store, "watch.max-watches"))
	cfg.Build.Concurrency = int(intSetting(store, "build.concurrency"))
	cfg.Pages.DataFile = stringSetting(store, "pages.data-file")
	cfg.Log.Level = stringSetting(store, "log.level")
	cfg.Log.Format = stringSetting(store, "log.format")

	for _, key := range store.Keys("tasks") {
		name, field, ok := splitTaskKey(key)
		if !ok {
			continue
		}
		if cfg.Tasks == nil {
			cfg.Tasks = map[string]CommandTask{}
		}
		entry := cfg.Tasks[name]
		switch field {
		case "command":
			entry.Command = stringSetting(store, key)
		case "dir":
			entry.Dir = stringSetting(store, key)
		}
		cfg.Tasks[name] = entry
	}
	return cfg
}

// splitTaskKey splits "tasks.<name>.<field>".
func splitTaskKey(key string) (string, string, bool) {
	rest := strings.TrimPrefix(key, "tasks.")
	index := strings.LastIndex(rest, ".")
	if index <= 0 || index == len(rest)-1 {
		return "", "", false
	}
	return rest[:index], rest[index+1:], true
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	required := map[string]string{
		"paths.src":  c.Paths.Src,
		"paths.temp": c.Paths.Temp,
		"paths.dist": c.Paths.Dist,
	}
	keys := make([]string, 0, len(required))
	for key := range required {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("config: %s is required", key))
		}
	}
	if c.Paths.Temp != "" && filepath.Clean(c.Paths.Temp) == filepath.Clean(c.Paths.Dist) {
		errs = append(errs, errors.New("config: paths.temp and paths.dist must differ"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: server.port %d out of range", c.Server.Port))
	}
	if c.Server.ReloadWindowMS < 0 || c.Watch.DebounceMS < 0 {
		errs = append(errs, errors.New("config: durations must not be negative"))
	}
	if c.Build.Concurrency < 0 {
		errs = append(errs, errors.New("config: build.concurrency must not be negative"))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format %q must be text or json", c.Log.Format))
	}
	for name, command := range c.Tasks {
		if strings.TrimSpace(command.Command) == "" {
			errs = append(errs, fmt.Errorf("config: tasks.%s.command is required", name))
		}
	}
	return errors.Join(errs...)
}

// Path resolves a project-relative path against Root.
func (c Config) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	root := c.Root
	if root == "" {
		root = "."
	}
	return filepath.Join(root, rel)
}

// SrcGlobs prefixes patterns with the source directory, keeping negation.
func (c Config) SrcGlobs(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		negated := strings.HasPrefix(pattern, "!")
		joined := filepath.ToSlash(filepath.Join(c.Paths.Src, strings.TrimPrefix(pattern, "!")))
		if negated {
			joined = "!" + joined
		}
		out = append(out, joined)
	}
	return out
}

func intSetting(store tomlkeys.Store, key string) int64 {
	value, _ := store.GetInt(key)
	return value
}

func stringSetting(store tomlkeys.Store, key string) string {
	value, _ := store.GetString(key)
	return strings.TrimSpace(value)
}

func stringsSetting(store tomlkeys.Store, key string) []string {
	values, _ := store.GetStrings(key)
	return values
}
