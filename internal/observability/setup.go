package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	MetricsPath       = "/metrics"
	readHeaderTimeout = 5 * time.Second
)

// InitTracing installs the global tracer provider. The returned func flushes
// and shuts it down.
func InitTracing(serviceName string) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(semconv.ServiceName(serviceName))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// MetricsServer exposes the default Prometheus registry over HTTP.
type MetricsServer struct {
	addr   string
	server *http.Server
	done   chan struct{}
}

func NewMetricsServer(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(MetricsPath, promhttp.Handler())
	return &MetricsServer{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

func (s *MetricsServer) Name() string {
	return "metrics_server"
}

func (s *MetricsServer) Start(context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.getLogEntry().WithField("error", err.Error()).Error("metrics server failed")
		}
	}()
	s.getLogEntry().WithField("addr", listener.Addr().String()).Info("serving metrics")
	return nil
}

func (s *MetricsServer) Stop(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	<-s.done
	return err
}

func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *MetricsServer) getLogEntry() *log.Entry {
	return log.WithField("object", "MetricsServer")
}
