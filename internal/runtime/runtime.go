package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicekit-labs/speakerd/internal/bus"
	"github.com/voicekit-labs/speakerd/internal/capability"
	"github.com/voicekit-labs/speakerd/internal/config"
	"github.com/voicekit-labs/speakerd/internal/embedding"
	"github.com/voicekit-labs/speakerd/internal/httpapi"
	"github.com/voicekit-labs/speakerd/internal/identify"
	"github.com/voicekit-labs/speakerd/internal/natsserver"
	"github.com/voicekit-labs/speakerd/internal/recognizer"
	"github.com/voicekit-labs/speakerd/internal/store"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
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

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	st, err := store.Open(ctx, r.cfg.Registry, r.cfg.Embeddings, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open speaker store: %w", err)
	}
	defer st.Close()

	encoder, err := embedding.New(r.cfg.Recognizer, r.cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("failed to build encoder: %w", err)
	}

	rec, err := recognizer.NewService(ctx, r.cfg.Recognizer, encoder, st, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start recognizer: %w", err)
	}

	var (
		embedded *natsserver.EmbeddedServer
		busConn  *bus.Client
		registry *capability.Registry
		streamer *identify.Service
	)
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		defer embedded.Shutdown()

		busCfg := r.cfg.Bus
		if busCfg.Embedded {
			busCfg.Servers = []string{fmt.Sprintf("nats://localhost:%d", busCfg.Port)}
		}
		busConn, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		defer busConn.Close()

		registry, err = capability.NewRegistry(ctx, r.cfg.Node, r.localCapabilities(), busConn, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start capability registry: %w", err)
		}
		defer registry.Close()

		streamer = identify.NewService(ctx, r.cfg.Bus, busConn, rec)
		if err := streamer.Start(); err != nil {
			return fmt.Errorf("failed to start stream identification: %w", err)
		}
		defer streamer.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	api := httpapi.New(r.cfg.HTTP, rec, r.logger)
	api.Register(mux)

	var handler http.Handler = mux
	if r.cfg.HTTP.AccessLog {
		handler = httpapi.AccessLog(r.logger, mux)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("recognizer_mode", r.cfg.Recognizer.Mode),
		slog.Int("enrolled", rec.Enrolled()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(),
		time.Duration(r.cfg.HTTP.ShutdownTimeout)*time.Millisecond)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
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

func (r *Runtime) localCapabilities() []capability.Capability {
	attrs := map[string]string{
		"mode":      r.cfg.Recognizer.Mode,
		"dimension": strconv.Itoa(r.cfg.Embeddings.Dimension),
	}
	return []capability.Capability{
		{Name: "speaker.identify", Attributes: attrs},
		{Name: "speaker.verify", Attributes: attrs},
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
