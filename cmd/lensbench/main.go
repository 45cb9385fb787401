package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/kobzarvs/lensbench/internal/app"
)

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err == pflag.ErrHelp {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "lensbench:", err)
		os.Exit(2)
	}
	if err := app.New(opts).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "lensbench:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (app.Options, error) {
	var opts app.Options
	fs := pflag.NewFlagSet("lensbench", pflag.ContinueOnError)
	fs.BoolVar(&opts.Debug, "debug", false, "log at debug level")
	fs.StringVar(&opts.ConfigPath, "config", "", "config file (default: $LENSBENCH_CONFIG_HOME/config.toml)")
	fs.StringVar(&opts.WorkspacePath, "workspace", "", "workspace file (default: $XDG_STATE_HOME/lensbench/workspace.json)")
	fs.StringVar(&opts.Model, "model", "", "model for new completions")
	fs.StringVar(&opts.Backend, "backend", "http", "backend: http or mock")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	switch opts.Backend {
	case "http", "mock":
	default:
		return opts, fmt.Errorf("unknown backend %q", opts.Backend)
	}
	return opts, nil
}
