package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Bind            string `yaml:"bind"`
	Port            int    `yaml:"port"`
	AccessLog       bool   `yaml:"access_log"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_ms"`
}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type EmbeddingsConfig struct {
	Dir       string `yaml:"dir"`
	Dimension int    `yaml:"dimension"`
}

type RecognizerConfig struct {
	Mode            string  `yaml:"mode"` // mock, analyzer, exec
	Command         string  `yaml:"command"`
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	MinConfidence   float64 `yaml:"min_confidence"`
	MaxAudioSeconds int     `yaml:"max_audio_seconds"`
	TimeoutMS       int     `yaml:"timeout_ms"`
}

type RegistryConfig struct {
	Path            string `yaml:"path"`
	RetentionDays   int    `yaml:"retention_days"`
	MaxRecognitions int    `yaml:"max_recognitions"`
	VacuumOnStart   bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	PartialEveryMS int      `yaml:"partial_every_ms"`
	PublishPartial bool     `yaml:"publish_partial"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Embeddings  EmbeddingsConfig `yaml:"embeddings"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Registry    RegistryConfig   `yaml:"registry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
}

func Default() Config {
	return Config{
		ServiceName: "speakerd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:            "0.0.0.0",
			Port:            8099,
			AccessLog:       true,
			MaxBodyBytes:    16 << 20,
			ShutdownTimeout: 10000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Embeddings: EmbeddingsConfig{
			Dir:       "./data/embeddings",
			Dimension: 256,
		},
		Recognizer: RecognizerConfig{
			Mode:            "analyzer",
			SampleRate:      16000,
			Channels:        1,
			MinConfidence:   0.75,
			MaxAudioSeconds: 30,
			TimeoutMS:       45000,
		},
		Registry: RegistryConfig{
			Path:            "./data/speakerd.db",
			RetentionDays:   30,
			MaxRecognitions: 10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			PartialEveryMS: 800,
			PublishPartial: false,
		},
		Node: NodeConfig{
			ID:                "speakerd-node-1",
			Role:              "recognizer",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
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
	overrideString(&cfg.ServiceName, "SPEAKERD_SERVICE_NAME")
	overrideString(&cfg.Environment, "SPEAKERD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SPEAKERD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SPEAKERD_HTTP_PORT")
	overrideBool(&cfg.HTTP.AccessLog, "SPEAKERD_HTTP_ACCESS_LOG")
	overrideInt64(&cfg.HTTP.MaxBodyBytes, "SPEAKERD_HTTP_MAX_BODY_BYTES")
	overrideInt(&cfg.HTTP.ShutdownTimeout, "SPEAKERD_HTTP_SHUTDOWN_TIMEOUT_MS")
	overrideString(&cfg.Telemetry.LogLevel, "SPEAKERD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SPEAKERD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SPEAKERD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SPEAKERD_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Embeddings.Dir, "SPEAKERD_EMBEDDINGS_DIR")
	overrideInt(&cfg.Embeddings.Dimension, "SPEAKERD_EMBEDDINGS_DIMENSION")
	overrideString(&cfg.Recognizer.Mode, "SPEAKERD_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "SPEAKERD_RECOGNIZER_COMMAND")
	overrideInt(&cfg.Recognizer.SampleRate, "SPEAKERD_RECOGNIZER_SAMPLE_RATE")
	overrideInt(&cfg.Recognizer.Channels, "SPEAKERD_RECOGNIZER_CHANNELS")
	overrideFloat(&cfg.Recognizer.MinConfidence, "SPEAKERD_RECOGNIZER_MIN_CONFIDENCE")
	overrideInt(&cfg.Recognizer.MaxAudioSeconds, "SPEAKERD_RECOGNIZER_MAX_AUDIO_SECONDS")
	overrideInt(&cfg.Recognizer.TimeoutMS, "SPEAKERD_RECOGNIZER_TIMEOUT_MS")
	overrideString(&cfg.Registry.Path, "SPEAKERD_REGISTRY_PATH")
	overrideInt(&cfg.Registry.RetentionDays, "SPEAKERD_REGISTRY_RETENTION_DAYS")
	overrideInt(&cfg.Registry.MaxRecognitions, "SPEAKERD_REGISTRY_MAX_RECOGNITIONS")
	overrideBool(&cfg.Registry.VacuumOnStart, "SPEAKERD_REGISTRY_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "SPEAKERD_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SPEAKERD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SPEAKERD_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SPEAKERD_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SPEAKERD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SPEAKERD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SPEAKERD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SPEAKERD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SPEAKERD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SPEAKERD_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.PartialEveryMS, "SPEAKERD_BUS_PARTIAL_EVERY_MS")
	overrideBool(&cfg.Bus.PublishPartial, "SPEAKERD_BUS_PUBLISH_PARTIAL")
	overrideString(&cfg.Node.ID, "SPEAKERD_NODE_ID")
	overrideString(&cfg.Node.Role, "SPEAKERD_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "SPEAKERD_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "SPEAKERD_NODE_HEARTBEAT_TIMEOUT_MS")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		return errors.New("http.max_body_bytes must be positive")
	}
	switch cfg.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Embeddings.Dir == "" {
		return errors.New("embeddings.dir must not be empty")
	}
	if cfg.Embeddings.Dimension <= 0 {
		return errors.New("embeddings.dimension must be positive")
	}
	switch cfg.Recognizer.Mode {
	case "mock", "analyzer", "exec":
	default:
		return errors.New("recognizer.mode must be one of mock|analyzer|exec")
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.SampleRate <= 0 {
		return errors.New("recognizer.sample_rate must be positive")
	}
	if cfg.Recognizer.Channels <= 0 {
		return errors.New("recognizer.channels must be positive")
	}
	if cfg.Recognizer.MinConfidence < 0 || cfg.Recognizer.MinConfidence > 1 {
		return errors.New("recognizer.min_confidence must be between 0 and 1")
	}
	if cfg.Recognizer.MaxAudioSeconds <= 0 {
		return errors.New("recognizer.max_audio_seconds must be positive")
	}
	if cfg.Registry.Path == "" {
		return errors.New("registry.path must not be empty")
	}
	if cfg.Registry.RetentionDays < 0 {
		return errors.New("registry.retention_days must be >= 0")
	}
	if cfg.Registry.MaxRecognitions < 0 {
		return errors.New("registry.max_recognitions must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	return nil
}
