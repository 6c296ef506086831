package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/capability"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/eventstore"
	"github.com/loqalabs/loqa-tts/internal/natsserver"
	"github.com/loqalabs/loqa-tts/internal/tts"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	embedded      *natsserver.EmbeddedServer
	bus           *bus.Client
	registry      *capability.Registry
	tts           *tts.Service
	store         *eventstore.Store
	bundle        *engine.Bundle
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.closeComponents()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}

	r.bundle, err = engine.Build(r.cfg.Engine, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	info := r.bundle.Info()
	r.logger.Info("engine ready",
		slog.String("speaker_mode", info.SpeakerMode),
		slog.String("language_mode", info.LanguageMode),
		slog.Int("sample_rate", info.SampleRate),
		slog.String("device", info.Device))

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx, info); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	(&api{engine: r.bundle.Engine, info: info, store: r.store, log: r.logger}).register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startBus(ctx context.Context, info engine.Info) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}

	r.registry, err = capability.NewRegistry(ctx, r.cfg.Node, capability.FromEngine(info), r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start capability registry: %w", err)
	}

	r.tts = tts.NewService(ctx, r.cfg.TTS, r.bus, r.bundle.Engine, r.store, r.logger)
	if err := r.tts.Start(); err != nil {
		return fmt.Errorf("failed to start tts service: %w", err)
	}
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) closeComponents() {
	if r.tts != nil {
		r.tts.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.embedded.Shutdown()
	if r.bundle != nil {
		r.bundle.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
}

// healthy reports whether the bus side of the runtime is usable.
func (r *Runtime) healthy() bool {
	if !r.cfg.Bus.Enabled {
		return true
	}
	return r.bus.Healthy() && r.tts != nil && r.tts.Healthy()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
