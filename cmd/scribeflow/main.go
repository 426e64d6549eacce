package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gkirna/scribeflow/internal/bus"
	"github.com/gkirna/scribeflow/internal/config"
	"github.com/gkirna/scribeflow/internal/daemon"
	"github.com/gkirna/scribeflow/internal/deps"
	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/metrics"
	"github.com/gkirna/scribeflow/internal/persist"
	"github.com/gkirna/scribeflow/internal/recording"
	"github.com/gkirna/scribeflow/internal/tui"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	format     string
}

// loadConfig reads --config, or the default path, falling back to defaults
// when the file does not exist.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.LoadFile(path)
	if errors.Is(err, config.ErrConfigNotFound) || errors.Is(err, os.ErrNotExist) {
		cfg = config.DefaultConfig()
	} else if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Init(cfg.ToLoggingConfig())
	return cfg, nil
}

func (o *rootOptions) reporter(w io.Writer) (*tui.Reporter, error) {
	format, err := tui.ParseFormat(o.format)
	if err != nil {
		return nil, err
	}
	return tui.NewReporter(w, format), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "scribeflow",
		Short:         "Streaming transcription with durable segment persistence",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/scribeflow/config.toml)")
	root.PersistentFlags().StringVarP(&opts.format, "output", "o", "text", "report format: text, json, yaml")

	root.AddCommand(
		serveCmd(opts),
		controlCmd("start", "Start a recording session", bus.CmdStart),
		controlCmd("pause", "Pause the current session", bus.CmdPause),
		controlCmd("resume", "Resume a paused or failed session", bus.CmdResume),
		controlCmd("stop", "Stop the session and write its summary", bus.CmdStop),
		controlCmd("status", "Get current session status", bus.CmdStatus),
		controlCmd("version", "Get protocol version", bus.CmdVersion),
		controlCmd("quit", "Stop the daemon", bus.CmdQuit),
		transcribeCmd(opts),
		cacheCmd(opts),
		chunksCmd(opts),
		configureCmd(opts),
		doctorCmd(opts),
	)
	return root
}

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := config.NewManager(opts.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logging.Init(manager.GetConfig().ToLoggingConfig())
			return daemon.New(manager, daemon.Options{Metrics: metrics.Default}).Run()
		},
	}
}

func controlCmd(use, short string, cmdByte byte) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := bus.SendCommand(cmdByte)
			if err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			fmt.Fprint(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func transcribeCmd(opts *rootOptions) *cobra.Command {
	var realtime bool
	var save bool

	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Run a one-shot session over a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rep, err := opts.reporter(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			src, err := recording.OpenFile(recording.FileConfig{
				Path:              args[0],
				FrameDuration:     100 * time.Millisecond,
				Realtime:          realtime,
				ChannelBufferSize: cfg.Recording.ChannelBufferSize,
			})
			if err != nil {
				return err
			}
			cfg.Recording.SampleRate = src.SampleRate()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := daemon.NewSession(ctx, cfg, daemon.Options{
				Source: func(*config.Config, *metrics.Metrics) (recording.Source, error) { return src, nil },
			})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			if err := rt.Session.Start(ctx); err != nil {
				_, _ = rt.Session.Stop(context.Background())
				return err
			}
			select {
			case <-rt.Session.CaptureDone():
			case <-ctx.Done():
			}

			out, stopErr := rt.Session.Stop(context.Background())
			if save {
				dir, err := daemon.OutputDir(cfg)
				if err != nil {
					return err
				}
				path, err := daemon.WriteOutput(dir, out)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "summary written to %s\n", path)
			}
			if err := rep.Output(out); err != nil {
				return err
			}
			return stopErr
		},
	}

	cmd.Flags().BoolVar(&realtime, "realtime", false, "pace the file at wall-clock speed")
	cmd.Flags().BoolVar(&save, "save", false, "also write the summary JSON to the output directory")
	return cmd
}

func cacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and replay the local fallback cache",
	}
	cmd.AddCommand(cacheListCmd(opts), cacheReplayCmd(opts))
	return cmd
}

func openBoltCache(cfg *config.Config) (*persist.BoltCache, error) {
	if cfg.Persistence.CachePath == "" {
		return nil, errors.New("no fallback cache file configured (persistence.cache_path)")
	}
	return persist.OpenBoltCache(cfg.Persistence.CachePath)
}

func cacheListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions with cached chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rep, err := opts.reporter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			cache, err := openBoltCache(cfg)
			if err != nil {
				return err
			}
			defer cache.Close()

			ids, err := cache.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			sessions := make([]tui.CachedSession, 0, len(ids))
			for _, id := range ids {
				chunks, err := cache.Peek(id)
				if err != nil {
					return err
				}
				sessions = append(sessions, tui.CachedSession{SessionID: id, Chunks: len(chunks)})
			}
			return rep.Sessions(sessions)
		},
	}
}

func cacheReplayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Write cached chunks to the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rep, err := opts.reporter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if cfg.Persistence.Store != "mongo" {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: persistence.store is not mongo, replayed chunks stay in this process only")
			}
			cache, err := openBoltCache(cfg)
			if err != nil {
				return err
			}
			defer cache.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Persistence.StopTimeout)
			defer cancel()
			store, closeStore, err := daemon.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(context.Background())

			results, replayErr := persist.Replay(ctx, cache, store)
			if err := rep.Replay(results); err != nil {
				return err
			}
			return replayErr
		},
	}
}

func chunksCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chunks <session-id>",
		Short: "Show the chunks a session persisted to the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rep, err := opts.reporter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if cfg.Persistence.Store != "mongo" {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: persistence.store is not mongo, nothing outlives the session process")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Persistence.StopTimeout)
			defer cancel()
			store, closeStore, err := daemon.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(context.Background())

			reader, ok := store.(persist.SessionReader)
			if !ok {
				return fmt.Errorf("store %q cannot list sessions", cfg.Persistence.Store)
			}
			chunks, err := reader.ListSession(ctx, args[0])
			if err != nil {
				return fmt.Errorf("list session %s: %w", args[0], err)
			}
			return rep.Chunks(args[0], chunks)
		},
	}
}

func configureCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Interactive configuration setup",
		Long: `Interactive configuration wizard for scribeflow.
This will guide you through setting up:
- The transcription provider and language
- The durable store and fallback cache
- LLM enrichment, notifications and integrations`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(cmd, opts)
		},
	}
}

func runConfigure(cmd *cobra.Command, opts *rootOptions) error {
	path := opts.configPath
	if path == "" {
		p, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := config.LoadFile(path)
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load config: %w", err)
	}

	result, err := tui.Run(cfg)
	if err != nil {
		return fmt.Errorf("configuration wizard error: %w", err)
	}
	out := cmd.OutOrStdout()
	if result.Cancelled {
		fmt.Fprintln(out, "Configuration cancelled.")
		return nil
	}

	if err := config.SaveFile(path, result.Config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration saved successfully!")
	fmt.Fprintf(out, "Config file location: %s\n", path)
	fmt.Fprintln(out, "A running daemon applies the new settings to its next session.")
	return nil
}

func doctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools used at runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := opts.reporter(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			results := deps.CheckAll()
			if err := rep.Doctor(results); err != nil {
				return err
			}
			if missing := deps.MissingRequired(results); len(missing) > 0 {
				return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			if err := recording.CheckPipeWireAvailable(ctx); err != nil {
				return err
			}
			return nil
		},
	}
}
