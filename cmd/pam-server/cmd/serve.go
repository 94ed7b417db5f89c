package cmd

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rebelopsio/pam-core/internal/config"
	"github.com/rebelopsio/pam-core/internal/server"
	"github.com/rebelopsio/pam-core/pkg/monitoring"
	"github.com/rebelopsio/pam-core/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the privileged access server",
	Long:  `Start the server that processes elevation requests, privileged sessions, and separation-of-duties checks.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("port", "8080", "Server port")
	serveCmd.Flags().String("policy-file", "", "Path to the policy YAML file")
	serveCmd.Flags().Duration("idle-threshold", 30*time.Minute, "Session idle threshold")
	serveCmd.Flags().Duration("retention", 90*24*time.Hour, "Retention horizon for terminal records")
	serveCmd.Flags().Bool("tracing-enabled", false, "Enable OpenTelemetry tracing")
	serveCmd.Flags().String("tracing-endpoint", "", "OTLP collector endpoint")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("policy.file", serveCmd.Flags().Lookup("policy-file"))
	viper.BindPFlag("engine.idleThreshold", serveCmd.Flags().Lookup("idle-threshold"))
	viper.BindPFlag("engine.retention", serveCmd.Flags().Lookup("retention"))
	viper.BindPFlag("tracing.enabled", serveCmd.Flags().Lookup("tracing-enabled"))
	viper.BindPFlag("tracing.endpoint", serveCmd.Flags().Lookup("tracing-endpoint"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromViper()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := monitoring.NewMonitor(monitoring.Config{
		MetricsEnabled: true,
		MetricsPort:    atoiOr(cfg.Monitoring.MetricsPort, 9090),
		HealthPort:     atoiOr(cfg.Monitoring.HealthPort, 8081),
		Tracing: telemetry.TracingConfig{
			Enabled:     cfg.Tracing.Enabled,
			Exporter:    "otlp",
			Endpoint:    cfg.Tracing.Endpoint,
			Environment: cfg.Tracing.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		},
	}, logger.Named("monitoring"))

	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := monitor.Stop(shutdownCtx); err != nil {
			logger.Warn("monitoring shutdown", zap.Error(err))
		}
	}()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting PAM server", zap.String("port", cfg.Port()))
	return srv.Run(ctx)
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
