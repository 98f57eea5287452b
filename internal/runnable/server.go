package runnable

import (
	"context"
	"cssbattle-eval/internal/evaluate"
	"cssbattle-eval/internal/myhttp"
	"cssbattle-eval/internal/routes"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscopepprof "github.com/grafana/pyroscope-go/http/pprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/net/netutil"
	"golang.org/x/xerrors"
)

const applicationName = "cssbattle-eval"

// Server exposes an Evaluator over HTTP. Browser work is expensive, so the
// listener caps concurrent connections and shutdown drains in-flight renders.
type Server struct {
	address                string
	terminationGracePeriod time.Duration
	lameduck               time.Duration
	keepAlive              bool
	maxConnections         int

	logger    *slog.Logger
	evaluator *evaluate.Evaluator
	targets   *routes.Targets
}

func NewServer(logger *slog.Logger, evaluator *evaluate.Evaluator, targets *routes.Targets) *Server {
	return &Server{
		address:                EnvOrDefaultValue("ADDRESS", "0.0.0.0:8383"),
		terminationGracePeriod: EnvOrDefaultValue("TERMINATION_GRACE_PERIOD", evaluate.DefaultTimeout+5*time.Second),
		lameduck:               EnvOrDefaultValue("LAMEDUCK", 1*time.Second),
		keepAlive:              EnvOrDefaultValue("HTTP_KEEPALIVE", true),
		maxConnections:         EnvOrDefaultValue("MAX_CONNECTIONS", 1024),
		logger:                 logger,
		evaluator:              evaluator,
		targets:                targets,
	}
}

var Debug = false

// NewLogger builds the process logger: JSON on stderr with OpenTelemetry
// log data model keys, text when Debug is set. GO_LOG selects the level.
func NewLogger() (*slog.Logger, error) {
	level := slog.LevelInfo
	if v, ok := os.LookupEnv("GO_LOG"); ok {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return nil, xerrors.Errorf("failed to parse GO_LOG: %w", err)
		}
	}
	options := &slog.HandlerOptions{
		Level: level,
		// https://opentelemetry.io/docs/specs/otel/logs/data-model/
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				a.Key = "severitytext"
			case slog.MessageKey:
				a.Key = "body"
			}
			return a
		},
	}
	if Debug {
		return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
}

func (s *Server) handler(meter metric.Meter) (http.Handler, error) {
	requestDuration, err := meter.Int64Histogram("http_requests_duration_micro_seconds")
	if err != nil {
		return nil, xerrors.Errorf("failed to create request histogram: %w", err)
	}
	metrics, err := routes.NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	mux := myhttp.NewServerMux(s.logger, requestDuration)

	mux.HandleFuncWithMiddleware("POST /evaluate", routes.Evaluate(s.evaluator, s.targets, metrics))
	mux.HandleFuncWithMiddleware("POST /evaluate/batch", routes.EvaluateBatch(s.evaluator, s.targets, metrics))
	mux.HandleFuncWithMiddleware("POST /compare", routes.Compare(s.evaluator.Comparator, metrics))
	mux.HandleFuncWithMiddleware("GET /challenges", routes.ListChallenges(s.targets))
	mux.HandleFuncWithMiddleware("GET /challenges/random", routes.RandomChallenge(s.targets))
	mux.HandleFuncWithMiddleware("GET /challenges/{id}", routes.GetChallenge(s.targets))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(http.StatusText(http.StatusOK)))
	})
	mux.Handle("GET /metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}),
	))

	if Debug {
		mux.HandleFunc("GET /debug/pprof/", pprof.Index)
		mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
		mux.HandleFunc("GET /debug/pprof/profile", pyroscopepprof.Profile)
	}

	return mux, nil
}

// Start serves until SIGTERM, an interrupt, or ctx is done, then drains.
func (s *Server) Start(ctx context.Context) error {
	logger := s.logger

	t, err := startTelemetry(ctx)
	if err != nil {
		return err
	}

	handler, err := s.handler(t.meter)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return xerrors.Errorf("failed to listen on %s: %w", s.address, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.SetKeepAlivesEnabled(s.keepAlive)

	go func() {
		if err := server.Serve(netutil.LimitListener(listener, s.maxConnections)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to serve", "error", err)
		}
	}()
	logger.Info("listening", "address", listener.Addr().String(), "maxConnections", s.maxConnections)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, os.Interrupt)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Info("draining", "lameduck", s.lameduck)
	time.Sleep(s.lameduck)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.terminationGracePeriod)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to drain server: %w", err)
	}
	return t.shutdown(ctx)
}
