package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/rebelopsio/pam-core/pkg/telemetry"
)

// Config holds monitoring configuration
type Config struct {
	MetricsEnabled bool                    `yaml:"metrics" json:"metrics"`
	MetricsPort    int                     `yaml:"metricsPort" json:"metricsPort"`
	HealthPort     int                     `yaml:"healthPort" json:"healthPort"`
	Tracing        telemetry.TracingConfig `yaml:"tracing" json:"tracing"`
}

// Monitor manages metrics and tracing
type Monitor struct {
	config         Config
	logger         *zap.Logger
	tracerProvider *trace.TracerProvider
	metricsServer  *http.Server
	healthServer   *http.Server
}

// NewMonitor creates a new monitoring instance
func NewMonitor(config Config, logger *zap.Logger) *Monitor {
	return &Monitor{
		config: config,
		logger: logger,
	}
}

// Start initializes and starts monitoring services
func (m *Monitor) Start(ctx context.Context) error {
	if m.config.Tracing.Enabled {
		tp, err := telemetry.InitTracing(ctx, m.config.Tracing)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		m.tracerProvider = tp
		m.logger.Info("tracing initialized",
			zap.String("exporter", m.config.Tracing.Exporter),
			zap.String("endpoint", m.config.Tracing.Endpoint))
	}

	if m.config.MetricsEnabled {
		if err := m.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		m.logger.Info("metrics server started", zap.Int("port", m.config.MetricsPort))
	}

	if err := m.startHealthServer(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	m.logger.Info("health server started", zap.Int("port", m.config.HealthPort))

	return nil
}

// Stop gracefully shuts down monitoring services
func (m *Monitor) Stop(ctx context.Context) error {
	var errs []error

	if m.metricsServer != nil {
		if err := m.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown failed: %w", err))
		}
	}

	if m.healthServer != nil {
		if err := m.healthServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server shutdown failed: %w", err))
		}
	}

	if m.tracerProvider != nil {
		if err := m.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown failed: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("monitoring shutdown errors: %v", errs)
	}

	return nil
}

func (m *Monitor) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	m.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", m.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := m.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

func (m *Monitor) startHealthServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			m.logger.Error("failed to write health check response", zap.Error(err))
		}
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if m.isSystemReady() {
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("ready")); err != nil {
				m.logger.Error("failed to write readiness response", zap.Error(err))
			}
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("not ready")); err != nil {
				m.logger.Error("failed to write not ready response", zap.Error(err))
			}
		}
	})

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("alive")); err != nil {
			m.logger.Error("failed to write liveness response", zap.Error(err))
		}
	})

	m.healthServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", m.config.HealthPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := m.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("health server failed", zap.Error(err))
		}
	}()

	return nil
}

func (m *Monitor) isSystemReady() bool {
	return true
}

// Monitoring wrapper functions that combine metrics and tracing

// TrackElevation wraps an elevation lifecycle operation with tracing
func (m *Monitor) TrackElevation(ctx context.Context, operation, requester, roleID string, fn func(context.Context) error) error {
	return telemetry.InstrumentElevation(ctx, operation, requester, roleID, fn)
}

// TrackDutyCheck wraps a conflict detection pass with tracing
func (m *Monitor) TrackDutyCheck(ctx context.Context, principal, category string, fn func(context.Context) error) error {
	return telemetry.InstrumentDutyCheck(ctx, principal, category, fn)
}

// Instrumentation middleware for HTTP handlers

func (m *Monitor) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Extract trace context from headers
		ctx := telemetry.ExtractTraceContext(r.Context(), extractHeadersMap(r.Header))
		r = r.WithContext(ctx)

		ctx, span := telemetry.StartSpan(ctx, fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path),
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.user_agent", r.UserAgent()),
		)
		defer span.End()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		duration := time.Since(start)
		span.SetAttributes(
			attribute.Int("http.status_code", wrapped.statusCode),
			attribute.Int64("http.duration_ms", duration.Milliseconds()),
		)

		if wrapped.statusCode >= 400 {
			telemetry.SetSpanStatus(span, nil, fmt.Sprintf("HTTP %d", wrapped.statusCode))
		} else {
			telemetry.SetSpanStatus(span, nil, "HTTP request completed")
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func extractHeadersMap(headers http.Header) map[string]string {
	result := make(map[string]string)
	for key, values := range headers {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return result
}

// Default configurations

func DefaultConfig() Config {
	return Config{
		MetricsEnabled: true,
		MetricsPort:    9090,
		HealthPort:     8081,
		Tracing: telemetry.TracingConfig{
			Enabled:     false, // Disabled by default
			Exporter:    "otlp",
			Endpoint:    "",
			ServiceName: "pam-core",
			Environment: "development",
			SampleRate:  0.1,
		},
	}
}

func ProductionConfig() Config {
	return Config{
		MetricsEnabled: true,
		MetricsPort:    9090,
		HealthPort:     8081,
		Tracing: telemetry.TracingConfig{
			Enabled:     true,
			Exporter:    "otlp",
			Endpoint:    "", // Will use environment variables
			ServiceName: "pam-core",
			Environment: "production",
			SampleRate:  0.05, // Lower sampling in production
		},
	}
}
