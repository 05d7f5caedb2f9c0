package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Playback    PlaybackConfig  `yaml:"playback"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxHistory    int    `yaml:"max_history"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SynthesisConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type PlaybackConfig struct {
	Mode     string `yaml:"mode"` // exec, device, mock
	Command  string `yaml:"command"`
	Channels int    `yaml:"channels"`
}

func Default() Config {
	return Config{
		RuntimeName: "narra-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:          "./data/narra.db",
			RetentionDays: 30,
			MaxHistory:    10000,
		},
		Synthesis: SynthesisConfig{
			Endpoint:  "https://openspeech.bytedance.com/api/v3/tts/unidirectional",
			TimeoutMS: 30000,
		},
		Playback: PlaybackConfig{
			Mode:     "exec",
			Command:  "ffplay -autoexit -nodisp -loglevel quiet -",
			Channels: 1,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "NARRA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARRA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "NARRA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "NARRA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARRA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "NARRA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "NARRA_STORE_PATH")
	overrideInt(&cfg.Store.RetentionDays, "NARRA_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxHistory, "NARRA_STORE_MAX_HISTORY")
	overrideBool(&cfg.Store.VacuumOnStart, "NARRA_STORE_VACUUM_ON_START")
	overrideString(&cfg.Synthesis.Endpoint, "NARRA_SYNTHESIS_ENDPOINT")
	overrideInt(&cfg.Synthesis.TimeoutMS, "NARRA_SYNTHESIS_TIMEOUT_MS")
	overrideString(&cfg.Playback.Mode, "NARRA_PLAYBACK_MODE")
	overrideString(&cfg.Playback.Command, "NARRA_PLAYBACK_COMMAND")
	overrideInt(&cfg.Playback.Channels, "NARRA_PLAYBACK_CHANNELS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Store.MaxHistory < 0 {
		return errors.New("store.max_history must be >= 0")
	}
	if cfg.Synthesis.Endpoint == "" {
		return errors.New("synthesis.endpoint must not be empty")
	}
	if cfg.Synthesis.TimeoutMS <= 0 {
		return errors.New("synthesis.timeout_ms must be positive")
	}
	switch cfg.Playback.Mode {
	case "exec", "device", "mock":
	default:
		return errors.New("playback.mode must be one of exec|device|mock")
	}
	if cfg.Playback.Mode == "exec" && cfg.Playback.Command == "" {
		return errors.New("playback.command must be set when mode=exec")
	}
	if cfg.Playback.Mode == "device" && cfg.Playback.Channels <= 0 {
		return errors.New("playback.channels must be positive when mode=device")
	}
	return nil
}
