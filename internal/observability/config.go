package observability

import (
	"strings"

	"github.com/smallbiznis/appointly/internal/config"
)

// Config is the observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	UntracedPaths []string
}

func LoadConfig(cfg config.Config) Config {
	telemetry := cfg.Telemetry

	out := Config{
		ServiceName:          firstNonEmpty(cfg.AppName, "appointly"),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             firstNonEmpty(strings.ToLower(telemetry.LogLevel), "info"),
		LogFormat:            firstNonEmpty(strings.ToLower(telemetry.LogFormat), "json"),
		OtelEnabled:          telemetry.TracingEnabled && strings.TrimSpace(cfg.OTLPEndpoint) != "",
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: firstNonEmpty(strings.ToLower(telemetry.OTLPProtocol), "grpc"),
		OtelSamplingRatio:    clampRatio(telemetry.SamplingRatio),
		UntracedPaths:        telemetry.UntracedPaths,
	}
	// local runs trace every request
	if out.Debug() && telemetry.SamplingRatio == 0 {
		out.OtelSamplingRatio = 1
	}
	return out
}

// Debug enables verbose logging and gin debug mode.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func firstNonEmpty(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}
