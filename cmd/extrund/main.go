// Command extrund runs the plugin runtime standalone: it discovers,
// resolves, and loads every plugin under the configured roots, prints
// the registry state, and optionally stays up hot-reloading plugins as
// their sources change.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/extrun/extrun/internal/plugin"
	"github.com/extrun/extrun/internal/plugin/api"
	"github.com/extrun/extrun/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "extrund:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML options file")
		pluginDirs = flag.String("plugins", "", "comma-separated plugin roots (overrides config)")
		logLevel   = flag.String("log-level", "info", "log level (trace..error)")
		pretty     = flag.Bool("pretty", false, "human-readable log output")
		watch      = flag.Bool("watch", false, "stay up and hot-reload plugins on change")
	)
	flag.Parse()

	log := telemetry.NewLogger(*logLevel, *pretty)

	opts := plugin.DefaultOptions()
	if *configPath != "" {
		loaded, err := plugin.LoadOptions(*configPath)
		if err != nil {
			return err
		}
		opts = loaded
	}
	if *pluginDirs != "" {
		opts.PluginPaths = strings.Split(*pluginDirs, ",")
	}
	if *watch {
		opts.WatchForChanges = true
	}

	host := api.NewHost(log)
	manager, err := plugin.NewManager(opts, host, nil, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := manager.LoadAll(ctx)

	fmt.Printf("%-20s %-10s %-10s %s\n", "PLUGIN", "VERSION", "STATE", "ERROR")
	for _, status := range manager.StatusAll() {
		fmt.Printf("%-20s %-10s %-10s %s\n", status.ID, status.Version, status.State, status.Error)
	}

	failed := 0
	for _, ok := range results {
		if !ok {
			failed++
		}
	}
	log.Info().
		Int("loaded", len(results)-failed).
		Int("failed", failed).
		Msg("plugin load complete")

	if !opts.WatchForChanges {
		if failed > 0 {
			return fmt.Errorf("%d plugin(s) failed to load", failed)
		}
		return nil
	}

	watcher, err := plugin.NewWatcher(manager, log)
	if err != nil {
		return err
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	log.Info().Msg("watching for plugin changes, ctrl-c to exit")
	<-ctx.Done()

	for _, status := range manager.StatusAll() {
		if status.State == "active" || status.State == "disabled" {
			if err := manager.Unload(context.Background(), status.ID); err != nil {
				log.Warn().Str("plugin", status.ID).Err(err).Msg("unload on shutdown failed")
			}
		}
	}
	return nil
}
