// Package motion parses motion command flags and composes transport entrypoints.
package motion

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"strings"

	entrypoint "github.com/louisbranch/cuerposonoro/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/cuerposonoro/internal/platform/grpc"
	"github.com/louisbranch/cuerposonoro/internal/platform/timeouts"
	server "github.com/louisbranch/cuerposonoro/internal/services/motion/app"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/features"
)

// Config holds motion command configuration.
type Config struct {
	HTTPAddr   string `env:"CUERPO_SONORO_MOTION_HTTP_ADDR"   envDefault:":8000"`
	GRPCAddr   string `env:"CUERPO_SONORO_MOTION_GRPC_ADDR"`
	StaticDir  string `env:"CUERPO_SONORO_MOTION_STATIC_DIR"`
	DBPath     string `env:"CUERPO_SONORO_MOTION_DB_PATH"`
	AuthSecret string `env:"CUERPO_SONORO_MOTION_AUTH_SECRET"`

	Features features.Config

	// Probe checks the gRPC health endpoint and exits instead of serving.
	Probe bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "motion HTTP/WebSocket listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "client directory served at / (empty disables)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite session ledger path (empty disables)")
	fs.StringVar(&cfg.AuthSecret, "auth-secret", cfg.AuthSecret, "HS256 access token secret (empty disables auth)")
	fs.Float64Var(&cfg.Features.SmoothingFactor, "smoothing-factor", cfg.Features.SmoothingFactor, "exponential smoothing factor in (0,1]")
	fs.Float64Var(&cfg.Features.EnergyGain, "energy-gain", cfg.Features.EnergyGain, "energy gain")
	fs.Float64Var(&cfg.Features.SymmetryGain, "symmetry-gain", cfg.Features.SymmetryGain, "symmetry gain")
	fs.Float64Var(&cfg.Features.SmoothnessGain, "smoothness-gain", cfg.Features.SmoothnessGain, "smoothness gain")
	fs.Float64Var(&cfg.Features.ArmAngleOffset, "arm-angle-offset", cfg.Features.ArmAngleOffset, "arm angle offset")
	fs.Float64Var(&cfg.Features.VerticalExtensionGain, "vertical-extension-gain", cfg.Features.VerticalExtensionGain, "vertical extension gain")
	fs.BoolVar(&cfg.Probe, "probe", false, "check the gRPC health endpoint and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if err := cfg.Features.Validate(); err != nil {
		return Config{}, fmt.Errorf("feature config: %w", err)
	}
	return cfg, nil
}

// Run builds the motion app and serves feature streams until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMotion, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:   cfg.HTTPAddr,
			GRPCAddr:   cfg.GRPCAddr,
			StaticDir:  cfg.StaticDir,
			DBPath:     cfg.DBPath,
			AuthSecret: cfg.AuthSecret,
			Features:   cfg.Features,
		}); err != nil {
			return fmt.Errorf("serve motion: %w", err)
		}
		return nil
	})
}

// Probe dials the configured gRPC health endpoint and reports whether it is
// serving.
func Probe(ctx context.Context, cfg Config) error {
	addr, err := probeTarget(cfg.GRPCAddr)
	if err != nil {
		return err
	}
	logf := func(format string, args ...any) {
		log.Printf("probe %s", fmt.Sprintf(format, args...))
	}
	return platformgrpc.Probe(ctx, addr, timeouts.Probe, logf)
}

// probeTarget turns a listen address such as ":9000" into a dialable one.
func probeTarget(listenAddr string) (string, error) {
	listenAddr = strings.TrimSpace(listenAddr)
	if listenAddr == "" {
		return "", errors.New("probe requires a gRPC address")
	}
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "", fmt.Errorf("parse gRPC address %q: %w", listenAddr, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port), nil
}
