package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"brook/internal/build"
	"brook/internal/config"
	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the registered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			project, err := build.New(build.Options{Config: cfg, Logger: a.logger(cfg)})
			if err != nil {
				return err
			}
			registry, err := project.Registry()
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range registry.Names() {
				unit, _ := registry.Lookup(name)
				detail := unit.Kind().String()
				if command, ok := cfg.Tasks[name]; ok {
					detail = "command: " + command.Command
				}
				fmt.Fprintf(writer, "%s\t%s\n", name, detail)
			}
			return writer.Flush()
		},
	}
}

func (a *app) configCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "config",
		Short: "Inspect the project configuration",
	}

	var flat bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flat {
				return a.showFlat(cmd)
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
	show.Flags().BoolVar(&flat, "flat", false, "Print dotted key = value pairs")

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of brook.toml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := config.SchemaJSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return err
		},
	}

	command.AddCommand(show, schema)
	return command
}

func (a *app) showFlat(cmd *cobra.Command) error {
	root, err := a.projectRoot()
	if err != nil {
		return err
	}
	overrides, err := a.parseOverrides()
	if err != nil {
		return err
	}
	values, err := config.LoadProjectFlat(root, a.options.configPath, overrides)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, values[key])
	}
	return nil
}

func (a *app) initCommand() *cobra.Command {
	var force bool
	command := &cobra.Command{
		Use:   "init",
		Short: "Write a default brook.toml into the project directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.projectRoot()
			if err != nil {
				return err
			}
			defaults, err := config.DefaultPayload()
			if err != nil {
				return err
			}
			path, err := config.WriteDefault(root, defaults, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	command.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing brook.toml")
	return command
}
