package observability

import (
	"strings"

	"github.com/smallbiznis/tumblebus/internal/config"
)

// Config is the logging and telemetry view of the application config.
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
}

// LoadConfig normalizes the observability settings. Unknown log levels fall
// back to info, unknown formats to json and unknown exporter protocols to
// grpc. The sampling ratio is clamped to [0, 1]. Telemetry export is off
// without an endpoint.
func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "tumblebus"
	}
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)

	return Config{
		ServiceName:          name,
		Environment:          strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             oneOf(cfg.LogLevel, "info", "debug", "info", "warn", "error"),
		LogFormat:            oneOf(cfg.LogFormat, "json", "json", "console"),
		OtelEnabled:          cfg.OTLPEnabled && endpoint != "",
		OtelExporterEndpoint: endpoint,
		OtelExporterProtocol: oneOf(cfg.OTLPProtocol, "grpc", "grpc", "http"),
		OtelSamplingRatio:    min(max(cfg.OTLPSamplingRatio, 0), 1),
	}
}

// Debug turns on development logging: debug level or a dev environment.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch c.Environment {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func oneOf(raw, def string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}
