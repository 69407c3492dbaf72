package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Metrics  struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
}

// ChannelConfig holds settings for the WhatsApp gateway client.
type ChannelConfig struct {
	BaseURL           string        `mapstructure:"baseURL"`
	APIKey            string        `mapstructure:"apiKey"`
	DefaultSession    string        `mapstructure:"defaultSession"`
	RequestTimeout    time.Duration `mapstructure:"requestTimeout"`
	MessagesPerMinute int           `mapstructure:"messagesPerMinute"` // rolling 60s budget shared by all workers
	MessagesPerHour   int           `mapstructure:"messagesPerHour"`   // rolling 1h budget shared by all workers
	MessageDelay      time.Duration `mapstructure:"messageDelay"`      // minimum spacing between admitted sends
	RetryAttempts     int           `mapstructure:"retryAttempts"`     // transport retries inside the client
	RetryBackoff      []int         `mapstructure:"retryBackoff"`      // per-attempt backoff, seconds
}

// DispatchConfig holds settings for the task queue and its worker pool.
type DispatchConfig struct {
	NATSURL      string        `mapstructure:"natsURL"`
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // outer task attempt budget
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // maximum delay for exponential backoff NAK
	MaxAgeDays   int           `mapstructure:"maxAgeDays"`   // task stream retention
	PoolSize     int           `mapstructure:"poolSize"`     // worker goroutines executing tasks
	QueueSize    int           `mapstructure:"queueSize"`    // worker pool backlog before submit blocks
	ExpiryTime   time.Duration `mapstructure:"expiryTime"`   // idle worker expiry
	TickInterval time.Duration `mapstructure:"tickInterval"` // scheduler poll for due campaigns/steps
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	// Channel defaults mirror the gateway's published limits
	v.SetDefault("channel.baseURL", "http://localhost:3000")
	v.SetDefault("channel.defaultSession", "default")
	v.SetDefault("channel.requestTimeout", 30*time.Second)
	v.SetDefault("channel.messagesPerMinute", 30)
	v.SetDefault("channel.messagesPerHour", 500)
	v.SetDefault("channel.messageDelay", 2*time.Second)
	v.SetDefault("channel.retryAttempts", 3)
	v.SetDefault("channel.retryBackoff", []int{5, 30, 120})

	// Dispatch defaults
	v.SetDefault("dispatch.stream", "wa_dispatch")
	v.SetDefault("dispatch.consumer", "dispatch_worker")
	v.SetDefault("dispatch.group", "dispatch_workers")
	v.SetDefault("dispatch.maxDeliver", 3)
	v.SetDefault("dispatch.nakBaseDelay", 5*time.Second)
	v.SetDefault("dispatch.nakMaxDelay", 2*time.Minute)
	v.SetDefault("dispatch.maxAgeDays", 7)
	v.SetDefault("dispatch.poolSize", 10)
	v.SetDefault("dispatch.queueSize", 10000)
	v.SetDefault("dispatch.expiryTime", time.Minute)
	v.SetDefault("dispatch.tickInterval", 30*time.Second)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.wa-campaign-engine")
	v.AddConfigPath("/etc/wa-campaign-engine")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("dispatch.natsURL", url)
	}
	if base := os.Getenv("WAHA_BASE_URL"); base != "" {
		v.Set("channel.baseURL", base)
	}
	if key := os.Getenv("WAHA_API_KEY"); key != "" {
		v.Set("channel.apiKey", key)
	}
	if session := os.Getenv("WAHA_DEFAULT_SESSION"); session != "" {
		v.Set("channel.defaultSession", session)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(parts, tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
