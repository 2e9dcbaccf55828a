// Package config loads the bridge configuration from defaults, an optional
// YAML file, an optional .env file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Configuration holds all service configuration.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	STT           STTConfig           `yaml:"stt"`
	Session       SessionConfig       `yaml:"session"`
	Storage       StorageConfig       `yaml:"storage"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Documents     DocumentsConfig     `yaml:"documents"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds service identity and listener settings.
type ServiceConfig struct {
	Principal string `yaml:"principal"`
	HTTPPort  string `yaml:"http_port"`
	GRPCPort  string `yaml:"grpc_port"`
}

// STTConfig selects and tunes the recognition engine.
type STTConfig struct {
	Provider       string  `yaml:"provider"` // speechmatics, google, mock
	URL            string  `yaml:"url"`
	AuthToken      string  `yaml:"auth_token"`
	LanguageCode   string  `yaml:"language_code"`
	SampleRateHz   int     `yaml:"sample_rate_hz"`
	BitDepth       int     `yaml:"bit_depth"`
	Encoding       string  `yaml:"encoding"`
	ChunkSizeBytes int     `yaml:"chunk_size_bytes"`
	EnablePartials bool    `yaml:"enable_partials"`
	OperatingPoint string  `yaml:"operating_point"`
	MaxDelay       float64 `yaml:"max_delay"`
	EnableEntities bool    `yaml:"enable_entities"`
}

// SessionConfig bounds and times a bridge session.
type SessionConfig struct {
	MaxAudioBytes   int64         `yaml:"max_audio_bytes"`
	MaxFrameBytes   int64         `yaml:"max_frame_bytes"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	MaxPendingBytes int           `yaml:"max_pending_bytes"`
	PullTimeout     time.Duration `yaml:"pull_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig points at the bucket recorded sessions are written to.
type StorageConfig struct {
	BucketURL string `yaml:"bucket_url"` // file:///path, mem://, gs://bucket, s3://bucket
}

// KafkaConfig holds Kafka producer settings.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	TopicPartial string   `yaml:"topic_partial"`
	TopicFinal   string   `yaml:"topic_final"`
	TopicSession string   `yaml:"topic_session"`
	Principal    string   `yaml:"principal"`
	Enabled      bool     `yaml:"enabled"`
	Async        bool     `yaml:"async"`
}

// DocumentsConfig configures the clinical document generator.
type DocumentsConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// SpeechmaticsURL is the default real-time endpoint for the speechmatics provider.
const SpeechmaticsURL = "wss://eu2.rt.speechmatics.com/v2"

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Configuration {
	return Configuration{
		Service: ServiceConfig{
			Principal: "svc-audio-bridge",
			HTTPPort:  "8080",
			GRPCPort:  "50051",
		},
		STT: STTConfig{
			Provider:       "speechmatics",
			URL:            SpeechmaticsURL,
			LanguageCode:   "en",
			SampleRateHz:   16000,
			BitDepth:       16,
			Encoding:       "pcm_s16le",
			ChunkSizeBytes: 8192,
			EnablePartials: true,
			OperatingPoint: "enhanced",
			MaxDelay:       2.0,
		},
		Session: SessionConfig{
			MaxAudioBytes:   256 * 1024 * 1024,
			MaxFrameBytes:   1 << 20,
			MaxDuration:     2 * time.Hour,
			MaxPendingBytes: 30 * 32000,
			PullTimeout:     2 * time.Second,
			PollInterval:    20 * time.Millisecond,
			DrainTimeout:    2 * time.Second,
			FinalizeTimeout: 30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			BucketURL: "file:///tmp/audio-bridge?create_dir=true",
		},
		Kafka: KafkaConfig{
			TopicPartial: "transcripts.partial",
			TopicFinal:   "transcripts.final",
			TopicSession: "sessions.finalized",
			Async:        true,
		},
		Documents: DocumentsConfig{
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration. CONFIG_FILE names an optional YAML file and
// ENV_FILE an optional dotenv file (default .env); variables already present in
// the environment win over the dotenv file.
func Load() (*Configuration, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	envFile := envOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func loadFile(path string, cfg *Configuration) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Configuration) {
	s := &cfg.Service
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.HTTPPort = envOrDefault("HTTP_PORT", s.HTTPPort)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)

	st := &cfg.STT
	st.Provider = strings.ToLower(envOrDefault("STT_PROVIDER", st.Provider))
	switch st.Provider {
	case "google":
		// Google resolves its own endpoint and credentials when these are empty.
		if st.URL == SpeechmaticsURL {
			st.URL = ""
		}
		st.URL = envOrDefault("GOOGLE_ENDPOINT", envOrDefault("STT_URL", st.URL))
		st.AuthToken = envOrDefault("GOOGLE_APPLICATION_CREDENTIALS", envOrDefault("STT_AUTH_TOKEN", st.AuthToken))
	default:
		st.URL = envOrDefault("STT_URL", st.URL)
		st.AuthToken = envOrDefault("STT_AUTH_TOKEN", envOrDefault("SPEECHMATICS_API_KEY", st.AuthToken))
	}
	st.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", st.LanguageCode)
	st.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", st.SampleRateHz)
	st.BitDepth = envOrDefaultInt("STT_BIT_DEPTH", st.BitDepth)
	st.Encoding = envOrDefault("STT_ENCODING", st.Encoding)
	st.ChunkSizeBytes = envOrDefaultInt("STT_CHUNK_SIZE_BYTES", st.ChunkSizeBytes)
	st.EnablePartials = envOrDefaultBool("STT_ENABLE_PARTIALS", st.EnablePartials)
	st.OperatingPoint = envOrDefault("STT_OPERATING_POINT", st.OperatingPoint)
	st.MaxDelay = envOrDefaultFloat("STT_MAX_DELAY", st.MaxDelay)
	st.EnableEntities = envOrDefaultBool("STT_ENABLE_ENTITIES", st.EnableEntities)

	se := &cfg.Session
	se.MaxAudioBytes = envOrDefaultInt64("SESSION_MAX_AUDIO_BYTES", se.MaxAudioBytes)
	se.MaxFrameBytes = envOrDefaultInt64("SESSION_MAX_FRAME_BYTES", se.MaxFrameBytes)
	se.MaxDuration = envOrDefaultDuration("SESSION_MAX_DURATION", se.MaxDuration)
	se.MaxPendingBytes = envOrDefaultInt("SESSION_MAX_PENDING_BYTES", se.MaxPendingBytes)
	se.PullTimeout = envOrDefaultDuration("SESSION_PULL_TIMEOUT", se.PullTimeout)
	se.PollInterval = envOrDefaultDuration("SESSION_POLL_INTERVAL", se.PollInterval)
	se.DrainTimeout = envOrDefaultDuration("SESSION_DRAIN_TIMEOUT", se.DrainTimeout)
	se.FinalizeTimeout = envOrDefaultDuration("SESSION_FINALIZE_TIMEOUT", se.FinalizeTimeout)
	se.ShutdownTimeout = envOrDefaultDuration("SHUTDOWN_TIMEOUT", se.ShutdownTimeout)

	cfg.Storage.BucketURL = envOrDefault("STORAGE_BUCKET_URL", cfg.Storage.BucketURL)

	k := &cfg.Kafka
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		k.Brokers = splitList(brokers)
	}
	k.TopicPartial = envOrDefault("KAFKA_TOPIC_PARTIAL", k.TopicPartial)
	k.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", k.TopicFinal)
	k.TopicSession = envOrDefault("KAFKA_TOPIC_SESSION", k.TopicSession)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled || len(k.Brokers) > 0)
	k.Async = envOrDefaultBool("KAFKA_ASYNC", k.Async)

	d := &cfg.Documents
	d.APIKey = envOrDefault("OPENAI_API_KEY", d.APIKey)
	d.Model = envOrDefault("OPENAI_MODEL", d.Model)
	d.BaseURL = envOrDefault("OPENAI_BASE_URL", d.BaseURL)
	d.Timeout = envOrDefaultDuration("DOCUMENTS_TIMEOUT", d.Timeout)

	o := &cfg.Observability
	o.LogLevel = envOrDefault("LOG_LEVEL", o.LogLevel)
	o.LogFormat = envOrDefault("LOG_FORMAT", o.LogFormat)
}

// Validate checks listener ports and the settings the selected engine needs.
func (c *Configuration) Validate() error {
	if err := validatePort("http_port", c.Service.HTTPPort); err != nil {
		return err
	}
	if err := validatePort("grpc_port", c.Service.GRPCPort); err != nil {
		return err
	}

	switch c.STT.Provider {
	case "speechmatics":
		if c.STT.URL == "" {
			return errors.New("stt: url is required for speechmatics")
		}
		if c.STT.AuthToken == "" {
			return errors.New("stt: auth token is required for speechmatics")
		}
	case "google", "mock":
	default:
		return fmt.Errorf("stt: unknown provider %q", c.STT.Provider)
	}
	if c.STT.SampleRateHz <= 0 {
		return fmt.Errorf("stt: sample rate must be positive, got %d", c.STT.SampleRateHz)
	}
	if c.STT.ChunkSizeBytes <= 0 {
		return fmt.Errorf("stt: chunk size must be positive, got %d", c.STT.ChunkSizeBytes)
	}

	if c.Storage.BucketURL == "" {
		return errors.New("storage: bucket url is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka: brokers are required when enabled")
	}
	return nil
}

func validatePort(name, port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("service: %s must be between 0 and 65535, got %q", name, port)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
