// Package main provides the landledger binary entry point.
// Landledger binds land parcels to owners exactly once and answers who owns
// a registered parcel.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/landledger/config"
	"github.com/c360studio/landledger/registry"
)

const appName = "landledger"

// Set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	caller     string
	backend    string
	hexKeys    bool
}

// overrides returns the flag values that take precedence over every config layer.
func (o *globalOptions) overrides() *config.Config {
	return &config.Config{
		Storage:  config.StorageConfig{Backend: o.backend},
		Identity: config.IdentityConfig{Caller: o.caller},
	}
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Append-once land registry",
		Long: `Landledger binds land parcel keys to owners exactly once.

A key can be registered a single time; later attempts are rejected and the
original owner is kept. Anyone can verify who owns a registered key.

Records are stored in NATS JetStream KV (embedded or external), SQLite,
or memory. Every successful operation publishes an event on NATS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&opts.caller, "caller", "", "Caller identity (default: identity.caller, then the OS user)")
	pf.StringVar(&opts.backend, "backend", "", "Storage backend override (memory, nats, sqlite)")
	pf.BoolVar(&opts.hexKeys, "hex", false, "Interpret keys as hex-encoded bytes")

	cmd.AddCommand(
		registerCmd(opts),
		verifyCmd(opts),
		lookupCmd(opts),
		listCmd(opts),
		configCmd(opts),
		versionCmd(),
	)
	return cmd
}

func registerCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <key> <owner>",
		Short: "Register a land record; fails if the key is already registered",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0], opts.hexKeys)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				caller, err := resolveCaller(app.cfg)
				if err != nil {
					return err
				}
				err = app.Registry().Register(ctx, caller, key, []byte(args[1]))
				if registry.IsNotifyError(err) {
					app.logger.Warn("Record registered but event delivery failed", "error", err)
				} else if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", key)
				return nil
			})
		},
	}
}

func verifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <key>",
		Short: "Print the owner registered under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0], opts.hexKeys)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				caller, err := resolveCaller(app.cfg)
				if err != nil {
					return err
				}
				owner, err := app.Registry().Verify(ctx, caller, key)
				if registry.IsNotifyError(err) {
					app.logger.Warn("Owner verified but event delivery failed", "error", err)
				} else if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(owner))
				return nil
			})
		},
	}
}

// recordView is the JSON output of lookup.
type recordView struct {
	Key          string    `json:"key"`
	Owner        string    `json:"owner"`
	RegisteredBy string    `json:"registered_by"`
	RegisteredAt time.Time `json:"registered_at"`
}

func lookupCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "lookup <key>",
		Short: "Show the full record under a key without emitting an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0], opts.hexKeys)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				rec, err := app.Registry().Lookup(ctx, key)
				if err != nil {
					return err
				}
				view := recordView{
					Key:          key.String(),
					Owner:        string(rec.OwnerName),
					RegisteredBy: string(rec.RegisteredBy),
					RegisteredAt: rec.RegisteredAt.UTC(),
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(view)
				}
				fmt.Fprintf(out, "key:           %s\n", view.Key)
				fmt.Fprintf(out, "owner:         %s\n", view.Owner)
				fmt.Fprintf(out, "registered_by: %s\n", view.RegisteredBy)
				fmt.Fprintf(out, "registered_at: %s\n", view.RegisteredAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the record as JSON")
	return cmd
}

func listCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered keys (nats and sqlite backends)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				keys, err := app.Keys(ctx)
				if err != nil {
					return err
				}
				for _, key := range keys {
					if opts.hexKeys {
						fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
						continue
					}
					fmt.Fprintln(cmd.OutOrStdout(), key.String())
				}
				return nil
			})
		},
	}
}

func configCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default user config if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(opts.logLevel, cmd.ErrOrStderr())
			path, err := config.NewLoader(logger).EnsureUserConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(opts.logLevel, cmd.ErrOrStderr())
			cfg, err := loadConfig(opts, logger)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

// withApp loads config, starts an App for the duration of fn and shuts it down.
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, app *App) error) error {
	logger := newLogger(opts.logLevel, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts, logger)
	if err != nil {
		return err
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := app.Start(ctx); err != nil {
		app.Shutdown(shutdownTimeout)
		return err
	}
	defer app.Shutdown(shutdownTimeout)

	return fn(ctx, app)
}

func loadConfig(opts *globalOptions, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.NewLoader(logger, config.WithExplicitPath(opts.configPath)).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Merge(opts.overrides())
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(logLevel string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// parseKey turns a command-line key into record key bytes.
func parseKey(arg string, hexKeys bool) (registry.RecordKey, error) {
	if !hexKeys {
		return registry.RecordKey(arg), nil
	}
	b, err := hex.DecodeString(arg)
	if err != nil {
		return nil, fmt.Errorf("decode hex key %q: %w", arg, err)
	}
	return registry.RecordKey(b), nil
}

// resolveCaller picks the CLI caller identity: identity.caller (which --caller
// overrides), then the OS user.
func resolveCaller(cfg *config.Config) (registry.Identity, error) {
	if cfg != nil && cfg.Identity.Caller != "" {
		return registry.Identity(cfg.Identity.Caller), nil
	}
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "", fmt.Errorf("%w: pass --caller or set identity.caller", registry.ErrUnauthenticated)
	}
	return registry.Identity(u.Username), nil
}
