package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-voicerec/internal/config"
)

// Module provides the metrics registry, collectors and exporter.
var Module = fx.Module("metrics",
	fx.Provide(
		NewRegistry,
		NewFromRegistry,
	),
	fx.Invoke(RegisterServer),
)

// NewRegistry creates the process registry with Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return reg
}

// NewFromRegistry registers the recorder collectors with reg.
func NewFromRegistry(reg *prometheus.Registry) *Metrics {
	return New(reg)
}

// ServerParams holds dependencies for RegisterServer.
type ServerParams struct {
	fx.In
	Cfg      *config.Config
	Registry *prometheus.Registry
	Logger   *zap.Logger
	LC       fx.Lifecycle
}

// RegisterServer serves /metrics on the configured address when enabled.
func RegisterServer(params ServerParams) {
	if !params.Cfg.Metrics.Enabled {
		params.Logger.Debug("Metrics exporter disabled")

		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              params.Cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	params.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}

			params.Logger.Info("Serving metrics", zap.String("address", ln.Addr().String()))

			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					params.Logger.Error("Metrics server stopped", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
