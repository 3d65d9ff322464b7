package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/markhost/markhost/internal/config"
	"github.com/markhost/markhost/internal/plug"
	plugsyscall "github.com/markhost/markhost/internal/plug/syscall"
)

var (
	configPath string
	plugDirs   []string
	envName    string
	verbose    bool
	macKeys    bool
	timeout    time.Duration
	watch      bool

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "markhost",
	Short: "markhost - sandboxed plug runtime",
	Long: `markhost loads plug bundles (a manifest plus Lua sources), runs their
functions in isolated sandboxes, and routes events, commands, slash
commands, and page operations to them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd)

		zcfg := zap.NewProductionConfig()
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		if verbose {
			level = zapcore.DebugLevel
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load all plugs and serve until interrupted",
	Long: `Discovers plug bundles under the search paths, loads them, and keeps
the runtime alive. With --watch, bundles are reloaded when their
sources change on disk.`,
	RunE: runServe,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Load all plugs and list plugs, commands, and events",
	RunE:  runList,
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [event] [payload-json]",
	Short: "Dispatch an event to all subscribers and print the results",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runDispatch,
}

var invokeCmd = &cobra.Command{
	Use:   "invoke [plug.function] [args-json...]",
	Short: "Invoke a plug function directly and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInvoke,
}

var commandCmd = &cobra.Command{
	Use:   "command [name] [args-json...]",
	Short: "Run a named command contributed by a plug",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCommand,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a markhost config file")
	rootCmd.PersistentFlags().StringSliceVarP(&plugDirs, "plug-dir", "p", nil,
		"plug search path (repeatable)")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "",
		"runtime environment (client or server)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&macKeys, "mac-keys", false,
		"prefer mac keybindings from command declarations")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0,
		"per-invocation sandbox timeout")
	runCmd.Flags().BoolVarP(&watch, "watch", "w", false,
		"reload plugs when their sources change")

	rootCmd.AddCommand(runCmd, listCmd, dispatchCmd, invokeCmd, commandCmd)
}

// applyFlags lays explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("plug-dir") {
		cfg.PlugDirs = plugDirs
	}
	if flags.Changed("env") {
		cfg.Env = envName
	}
	if flags.Changed("mac-keys") {
		cfg.MacKeys = macKeys
	}
	if flags.Changed("timeout") {
		cfg.InvokeTimeout = timeout
	}
	if flags.Changed("watch") {
		cfg.Watch = watch
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap builds the system, discovers bundles, and loads them.
func bootstrap(ctx context.Context) (*plug.System, *plug.Loader, error) {
	env, err := plugsyscall.ParseEnv(cfg.Env)
	if err != nil {
		return nil, nil, err
	}
	system := plug.NewSystem(
		plug.WithLogger(logger),
		plug.WithEnv(env),
		plug.WithMacKeys(cfg.MacKeys),
		plug.WithTimeout(cfg.InvokeTimeout),
	)
	loader := plug.NewLoader(cfg.PlugDirs, plug.WithLoaderLogger(logger))

	report := system.LoadAll(ctx, loader.Discover())
	for name, err := range report.Failed {
		fmt.Fprintf(os.Stderr, "plug %s failed to load: %v\n", name, err)
	}
	logger.Info("plugs loaded",
		zap.Int("loaded", len(report.Loaded)),
		zap.Int("failed", len(report.Failed)))
	return system, loader, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	system, loader, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer system.UnloadAll()

	if cfg.Watch {
		watcher, err := plug.NewWatcher(system, loader,
			plug.WithWatcherLogger(logger), plug.WithReloadDelay(cfg.ReloadDelay))
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	system, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer system.UnloadAll()

	out := map[string]any{
		"plugs":    system.ListPlugs(),
		"commands": system.ListCommands(),
		"events":   system.SubscribedEvents(),
		"syscalls": system.Registry().Names(),
	}
	return printJSON(out)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	system, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer system.UnloadAll()

	var payload any
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}
	return printJSON(system.DispatchEvent(ctx, args[0], payload))
}

func runInvoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	system, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer system.UnloadAll()

	res, err := system.InvokeFunction(ctx, args[0], parseArgs(args[1:]))
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runCommand(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	system, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer system.UnloadAll()

	res, err := system.RunCommand(ctx, args[0], parseArgs(args[1:])...)
	if err != nil {
		return err
	}
	return printJSON(res)
}

// parseArgs decodes each CLI argument as JSON, falling back to a bare
// string when it does not parse.
func parseArgs(raw []string) []any {
	out := make([]any, len(raw))
	for i, r := range raw {
		var v any
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			out[i] = r
			continue
		}
		out[i] = v
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
