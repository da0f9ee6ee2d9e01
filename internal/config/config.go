package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Carrier    CarrierConfig    `mapstructure:"carrier"`
	Speech     SpeechConfig     `mapstructure:"speech"`
	Media      MediaConfig      `mapstructure:"media"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StreamConfig configures the carrier media-stream WebSocket listener.
type StreamConfig struct {
	Port         int           `mapstructure:"port"`
	Path         string        `mapstructure:"path"`
	FrameBuffer  int           `mapstructure:"frame_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers            []string      `mapstructure:"brokers"`
	ClientID           string        `mapstructure:"client_id"`
	PlaceCallQueue     string        `mapstructure:"place_call_queue"`
	GenerateMediaQueue string        `mapstructure:"generate_media_queue"`
	CallGroupID        string        `mapstructure:"call_group_id"`
	MediaGroupID       string        `mapstructure:"media_group_id"`
	CommitInterval     time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ComplianceConfig holds the calling-window policy knobs.
type ComplianceConfig struct {
	WindowStartHour int   `mapstructure:"window_start_hour"`
	WindowEndHour   int   `mapstructure:"window_end_hour"`
	SlotHours       []int `mapstructure:"slot_hours"`
	DailyCap        int   `mapstructure:"daily_cap"`
	MaxRetryDays    int   `mapstructure:"max_retry_days"`
}

// CarrierConfig holds telephony credentials and callback targets.
type CarrierConfig struct {
	AccountSID     string        `mapstructure:"account_sid"`
	AuthToken      string        `mapstructure:"auth_token"`
	FromNumber     string        `mapstructure:"from_number"`
	CallbackBase   string        `mapstructure:"callback_base"`
	StreamURL      string        `mapstructure:"stream_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SpeechConfig holds the realtime speech-engine connection settings.
type SpeechConfig struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Voice      string        `mapstructure:"voice"`
	SampleRate int           `mapstructure:"sample_rate"`
	PrimeTTL   time.Duration `mapstructure:"prime_ttl"`
}

// MediaConfig configures the generation collaborators.
type MediaConfig struct {
	TextEndpoint  string        `mapstructure:"text_endpoint"`
	ImageEndpoint string        `mapstructure:"image_endpoint"`
	VideoEndpoint string        `mapstructure:"video_endpoint"`
	APIKey        string        `mapstructure:"api_key"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	WaitCeiling   time.Duration `mapstructure:"wait_ceiling"`
	TempDir       string        `mapstructure:"temp_dir"`
}

// StorageConfig configures the durable object store.
type StorageConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Bucket    string        `mapstructure:"bucket"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Region    string        `mapstructure:"region"`
	URLTTL    time.Duration `mapstructure:"url_ttl"`
}

// NotifyConfig configures the owner notification webhook.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("MEMENTO")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Compliance.WindowStartHour == 0 && cfg.Compliance.WindowEndHour == 0 {
		cfg.Compliance.WindowStartHour = 9
		cfg.Compliance.WindowEndHour = 20
	}
	if len(cfg.Compliance.SlotHours) == 0 {
		cfg.Compliance.SlotHours = []int{10, 14, 18}
	}
	if cfg.Compliance.DailyCap <= 0 {
		cfg.Compliance.DailyCap = 3
	}
	if cfg.Compliance.MaxRetryDays <= 0 {
		cfg.Compliance.MaxRetryDays = 5
	}
	if cfg.Stream.FrameBuffer <= 0 {
		cfg.Stream.FrameBuffer = 64
	}
	if cfg.Media.PollInterval <= 0 {
		cfg.Media.PollInterval = 2 * time.Second
	}
	if cfg.Media.WaitCeiling <= 0 {
		cfg.Media.WaitCeiling = 5 * time.Minute
	}
	if cfg.Speech.SampleRate <= 0 {
		cfg.Speech.SampleRate = 24000
	}
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
