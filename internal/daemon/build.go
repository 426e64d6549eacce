package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gkirna/scribeflow/internal/bus"
	"github.com/gkirna/scribeflow/internal/config"
	"github.com/gkirna/scribeflow/internal/events"
	"github.com/gkirna/scribeflow/internal/llm"
	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/metrics"
	"github.com/gkirna/scribeflow/internal/notify"
	"github.com/gkirna/scribeflow/internal/persist"
	"github.com/gkirna/scribeflow/internal/pipeline"
	"github.com/gkirna/scribeflow/internal/recording"
	"github.com/gkirna/scribeflow/internal/transcriber"
	"github.com/gkirna/scribeflow/internal/transcript"
)

// SourceFactory builds the audio source for a new session.
type SourceFactory func(cfg *config.Config, m *metrics.Metrics) (recording.Source, error)

// Options tune how sessions are assembled.
type Options struct {
	// Source defaults to PipeWire capture.
	Source SourceFactory
	// Notifier overrides the one built from [notifications].
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
}

func captureSource(cfg *config.Config, m *metrics.Metrics) (recording.Source, error) {
	return recording.NewRecorder(cfg.ToRecordingConfig(), m), nil
}

// Runtime is a session plus the resources built for it.
type Runtime struct {
	Session *pipeline.Session
	Store   persist.Store
	closers []func(context.Context) error
}

// Close releases the store, cache and event publisher. Call after Stop.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Ready pings the store when it supports it.
func (r *Runtime) Ready(ctx context.Context) error {
	if p, ok := r.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// NewSession assembles a session from cfg. The caller owns the returned
// runtime and must Close it.
func NewSession(ctx context.Context, cfg *config.Config, opts Options) (rt *Runtime, err error) {
	rt = &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	if opts.Source == nil {
		opts.Source = captureSource
	}
	source, err := opts.Source(cfg, opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("audio source: %w", err)
	}

	transport, err := transcriber.NewTransport(cfg.ToProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("transcription provider: %w", err)
	}

	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	rt.closers = append(rt.closers, closeStore)

	cache, closeCache, err := OpenCache(cfg)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeCache)

	var enricher llm.Enricher
	if cfg.IsEnrichmentEnabled() {
		enricher, err = llm.NewEnricher(cfg.ToLLMConfig())
		if err != nil {
			return nil, fmt.Errorf("enrichment: %w", err)
		}
	}

	publisher := events.NewPublisher(cfg.ToKafkaConfig(), opts.Metrics)
	rt.closers = append(rt.closers, func(context.Context) error { return publisher.Close() })

	sink := events.NewFanout(events.LogSink{Log: logging.WithComponent("events")}, publisher)
	if cfg.Notifications.Enabled {
		n := opts.Notifier
		if n == nil {
			n = notify.New(cfg.Notifications.Type, cfg.Notifications.Messages.Resolve())
		}
		sink.Add(notify.Sink{Notifier: n, Warnings: cfg.Notifications.Warnings})
	}

	rt.Session, err = pipeline.New(cfg.ToPipelineConfig(), pipeline.Deps{
		Source:    source,
		Transport: transport,
		Store:     store,
		Cache:     cache,
		Enricher:  enricher,
		Sink:      sink,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// OpenStore opens the configured durable store.
func OpenStore(ctx context.Context, cfg *config.Config) (persist.Store, func(context.Context) error, error) {
	switch cfg.Persistence.Store {
	case "mongo":
		ms, err := persist.NewMongoStore(ctx, cfg.ToMongoConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("mongo store: %w", err)
		}
		if err := ms.EnsureIndexes(ctx); err != nil && !persist.IsSchemaUnavailable(err) {
			_ = ms.Close(ctx)
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return ms, ms.Close, nil
	default:
		return persist.NewMemoryStore(), func(context.Context) error { return nil }, nil
	}
}

// OpenCache opens the bbolt cache at persistence.cache_path, or a memory
// cache when no path is set.
func OpenCache(cfg *config.Config) (persist.FallbackCache, func(context.Context) error, error) {
	if cfg.Persistence.CachePath == "" {
		return persist.NewMemoryCache(), func(context.Context) error { return nil }, nil
	}
	bc, err := persist.OpenBoltCache(cfg.Persistence.CachePath)
	if err != nil {
		return nil, nil, err
	}
	return bc, func(context.Context) error { return bc.Close() }, nil
}

// OutputDir is persistence.output_dir, defaulting to a sessions directory
// under the scribeflow cache dir.
func OutputDir(cfg *config.Config) (string, error) {
	if cfg.Persistence.OutputDir != "" {
		return cfg.Persistence.OutputDir, nil
	}
	dir, err := bus.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions"), nil
}

// WriteOutput writes out as <dir>/<session id>.json and returns the path.
func WriteOutput(dir string, out transcript.StructuredOutput) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode output: %w", err)
	}
	path := filepath.Join(dir, out.SessionID+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return path, nil
}
