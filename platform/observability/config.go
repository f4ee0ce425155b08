package observability

import (
	"fmt"
	"os"
	"strconv"
)

// Config конфигурация OpenTelemetry (traces + metrics + propagator)
type Config struct {
	// Enabled включить экспорт в OTLP collector
	Enabled bool
	// OTLPEndpoint адрес OTLP gRPC (traces + metrics), например "127.0.0.1:4317" или "otel-collector:4317"
	OTLPEndpoint string
	// SamplingRatio доля трасс для семплирования (0..1), 1.0 = все
	SamplingRatio float64
	// ServiceName имя сервиса (payment, order, sysadmin)
	ServiceName string
	// DeploymentEnvironment окружение (local, docker)
	DeploymentEnvironment string
	// ServiceVersion опционально, например из build
	ServiceVersion string
}

// LoadConfig читает OTEL_ENABLED, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_SAMPLING_RATIO, SERVICE_VERSION
func LoadConfig(serviceName, env string) (Config, error) {
	cfg := Config{
		ServiceName:           serviceName,
		DeploymentEnvironment: env,
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SamplingRatio:         1.0,
		ServiceVersion:        os.Getenv("SERVICE_VERSION"),
	}

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OTEL_ENABLED: %w", err)
		}
		cfg.Enabled = enabled
	}
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil || ratio < 0 || ratio > 1 {
			return Config{}, fmt.Errorf("invalid OTEL_SAMPLING_RATIO: %q (must be 0..1)", v)
		}
		cfg.SamplingRatio = ratio
	}

	if cfg.Enabled && cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "127.0.0.1:4317"
		if env == "docker" {
			cfg.OTLPEndpoint = "otel-collector:4317"
		}
	}
	return cfg, nil
}
