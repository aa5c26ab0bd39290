package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the roomwatch service and dispatcher
type Config struct {
	// MQTT configuration
	MQTTEnabled  bool   `yaml:"mqtt_enabled"`
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTPort     int    `yaml:"mqtt_port"`
	MQTTUser     string `yaml:"mqtt_user"`
	MQTTPassword string `yaml:"mqtt_password"`
	MQTTClientID string `yaml:"mqtt_client_id"`

	// Redis configuration
	RedisEnabled  bool          `yaml:"redis_enabled"`
	RedisHost     string        `yaml:"redis_host"`
	RedisPort     int           `yaml:"redis_port"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisStateTTL time.Duration `yaml:"redis_state_ttl"`

	// Postgres configuration (unsent-record source)
	PostgresHost               string        `yaml:"postgres_host"`
	PostgresPort               int           `yaml:"postgres_port"`
	PostgresUser               string        `yaml:"postgres_user"`
	PostgresPassword           string        `yaml:"postgres_password"`
	PostgresDB                 string        `yaml:"postgres_db"`
	PostgresSSLMode            string        `yaml:"postgres_sslmode"`
	PostgresMaxConnections     int           `yaml:"postgres_max_connections"`
	PostgresMaxIdleConnections int           `yaml:"postgres_max_idle_connections"`
	PostgresConnMaxLifetime    time.Duration `yaml:"postgres_conn_max_lifetime"`
	SourceSchema               string        `yaml:"source_schema"`

	// Service configuration
	ServiceName string `yaml:"service_name"`
	HealthPort  int    `yaml:"health_port"`
	APIPort     int    `yaml:"api_port"`
	LogLevel    string `yaml:"log_level"`

	// Room state machine
	MinInterval   time.Duration `yaml:"min_interval"`
	MaxInterval   time.Duration `yaml:"max_interval"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Dispatcher
	PollInterval        time.Duration `yaml:"poll_interval"`
	MinIntervalPerRoom  time.Duration `yaml:"min_interval_per_room"`
	BatchLimit          int           `yaml:"batch_limit"`
	ExcludedCollections []string      `yaml:"excluded_collections"`
	CreateCollections   []string      `yaml:"create_collections"`
	PipelineURL         string        `yaml:"pipeline_url"`
	HealthURL           string        `yaml:"health_url"`
	SubmitTimeout       time.Duration `yaml:"submit_timeout"`
	SubmitMode          string        `yaml:"submit_mode"`
	SourceID            string        `yaml:"source_id"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		MQTTEnabled:  true,
		MQTTBroker:   "localhost",
		MQTTPort:     1883,
		RedisEnabled: true,
		RedisHost:    "localhost",
		RedisPort:    6379,
		RedisDB:      0,
		// Mirrored state outlives several fallback periods
		RedisStateTTL:              24 * time.Hour,
		PostgresHost:               "localhost",
		PostgresPort:               5432,
		PostgresUser:               "roomwatch",
		PostgresDB:                 "OccupancyData",
		PostgresSSLMode:            "disable",
		PostgresMaxConnections:     10,
		PostgresMaxIdleConnections: 5,
		PostgresConnMaxLifetime:    30 * time.Minute,
		SourceSchema:               "public",
		ServiceName:                "roomwatch",
		HealthPort:                 8080,
		APIPort:                    5000,
		LogLevel:                   "info",
		MinInterval:                2 * time.Second,
		MaxInterval:                3 * time.Second,
		SweepInterval:              time.Second,
		PollInterval:               2 * time.Second,
		MinIntervalPerRoom:         2 * time.Second,
		BatchLimit:                 200,
		ExcludedCollections:        []string{"OccupancyInfo", "room_occupancy"},
		PipelineURL:                "http://127.0.0.1:5000/occupancy/update",
		HealthURL:                  "http://127.0.0.1:5000/health",
		SubmitTimeout:              10 * time.Second,
		SubmitMode:                 "http",
		SourceID:                   "postgres_sender",
	}
}

// Load builds the configuration with hierarchy: defaults, then the YAML file
// named by ROOMWATCH_CONFIG, then env, then flags. The result is validated.
func Load(serviceName string, args []string) (*Config, error) {
	cfg := NewConfig()
	cfg.ServiceName = serviceName

	if path := os.Getenv("ROOMWATCH_CONFIG"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.LoadFromEnv()
	if err := cfg.LoadFromFlags(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile overlays values from a YAML file. Keys absent from the file
// keep their current value.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables with ROOMWATCH_ prefix
func (c *Config) LoadFromEnv() {
	// MQTT configuration
	envBool("ROOMWATCH_MQTT_ENABLED", &c.MQTTEnabled)
	envString("ROOMWATCH_MQTT_BROKER", &c.MQTTBroker)
	envInt("ROOMWATCH_MQTT_PORT", &c.MQTTPort)
	envString("ROOMWATCH_MQTT_USER", &c.MQTTUser)
	envString("ROOMWATCH_MQTT_PASSWORD", &c.MQTTPassword)
	envString("ROOMWATCH_MQTT_CLIENT_ID", &c.MQTTClientID)

	// Redis configuration
	envBool("ROOMWATCH_REDIS_ENABLED", &c.RedisEnabled)
	envString("ROOMWATCH_REDIS_HOST", &c.RedisHost)
	envInt("ROOMWATCH_REDIS_PORT", &c.RedisPort)
	envString("ROOMWATCH_REDIS_PASSWORD", &c.RedisPassword)
	envInt("ROOMWATCH_REDIS_DB", &c.RedisDB)
	envDuration("ROOMWATCH_REDIS_STATE_TTL", &c.RedisStateTTL)

	// Postgres configuration
	envString("ROOMWATCH_POSTGRES_HOST", &c.PostgresHost)
	envInt("ROOMWATCH_POSTGRES_PORT", &c.PostgresPort)
	envString("ROOMWATCH_POSTGRES_USER", &c.PostgresUser)
	envString("ROOMWATCH_POSTGRES_PASSWORD", &c.PostgresPassword)
	envString("ROOMWATCH_POSTGRES_DB", &c.PostgresDB)
	envString("ROOMWATCH_POSTGRES_SSLMODE", &c.PostgresSSLMode)
	envInt("ROOMWATCH_POSTGRES_MAX_CONNECTIONS", &c.PostgresMaxConnections)
	envInt("ROOMWATCH_POSTGRES_MAX_IDLE_CONNECTIONS", &c.PostgresMaxIdleConnections)
	envDuration("ROOMWATCH_POSTGRES_CONN_MAX_LIFETIME", &c.PostgresConnMaxLifetime)
	envString("ROOMWATCH_SOURCE_SCHEMA", &c.SourceSchema)

	// Service configuration
	envString("ROOMWATCH_SERVICE_NAME", &c.ServiceName)
	envInt("ROOMWATCH_HEALTH_PORT", &c.HealthPort)
	envInt("ROOMWATCH_API_PORT", &c.APIPort)
	envString("ROOMWATCH_LOG_LEVEL", &c.LogLevel)

	// Room state machine
	envDuration("ROOMWATCH_MIN_INTERVAL", &c.MinInterval)
	envDuration("ROOMWATCH_MAX_INTERVAL", &c.MaxInterval)
	envDuration("ROOMWATCH_SWEEP_INTERVAL", &c.SweepInterval)

	// Dispatcher
	envDuration("ROOMWATCH_POLL_INTERVAL", &c.PollInterval)
	envDuration("ROOMWATCH_MIN_INTERVAL_PER_ROOM", &c.MinIntervalPerRoom)
	envInt("ROOMWATCH_BATCH_LIMIT", &c.BatchLimit)
	if v := os.Getenv("ROOMWATCH_EXCLUDED_COLLECTIONS"); v != "" {
		c.ExcludedCollections = splitList(v)
	}
	if v := os.Getenv("ROOMWATCH_CREATE_COLLECTIONS"); v != "" {
		c.CreateCollections = splitList(v)
	}
	envString("ROOMWATCH_PIPELINE_URL", &c.PipelineURL)
	envString("ROOMWATCH_HEALTH_URL", &c.HealthURL)
	envDuration("ROOMWATCH_SUBMIT_TIMEOUT", &c.SubmitTimeout)
	envString("ROOMWATCH_SUBMIT_MODE", &c.SubmitMode)
	envString("ROOMWATCH_SOURCE_ID", &c.SourceID)
}

// LoadFromFlags parses command-line arguments and overrides config values
func (c *Config) LoadFromFlags(args []string) error {
	fs := pflag.NewFlagSet(c.ServiceName, pflag.ContinueOnError)

	// MQTT flags
	fs.BoolVar(&c.MQTTEnabled, "mqtt-enabled", c.MQTTEnabled, "Enable MQTT ingress and status publishing")
	fs.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	fs.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	fs.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	fs.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	fs.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID")

	// Redis flags
	fs.BoolVar(&c.RedisEnabled, "redis-enabled", c.RedisEnabled, "Enable the Redis room state mirror")
	fs.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis hostname")
	fs.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")
	fs.DurationVar(&c.RedisStateTTL, "redis-state-ttl", c.RedisStateTTL, "TTL of mirrored room state")

	// Postgres flags
	fs.StringVar(&c.PostgresHost, "postgres-host", c.PostgresHost, "Postgres hostname")
	fs.IntVar(&c.PostgresPort, "postgres-port", c.PostgresPort, "Postgres port")
	fs.StringVar(&c.PostgresUser, "postgres-user", c.PostgresUser, "Postgres user")
	fs.StringVar(&c.PostgresPassword, "postgres-password", c.PostgresPassword, "Postgres password")
	fs.StringVar(&c.PostgresDB, "postgres-db", c.PostgresDB, "Postgres database")
	fs.StringVar(&c.PostgresSSLMode, "postgres-sslmode", c.PostgresSSLMode, "Postgres sslmode")
	fs.StringVar(&c.SourceSchema, "source-schema", c.SourceSchema, "Schema whose tables hold raw readings")

	// Service flags
	fs.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	fs.IntVar(&c.HealthPort, "health-port", c.HealthPort, "Health check HTTP port")
	fs.IntVar(&c.APIPort, "api-port", c.APIPort, "HTTP API port")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")

	// Room state machine flags
	fs.DurationVar(&c.MinInterval, "min-interval", c.MinInterval, "Minimum time between accepted updates per room")
	fs.DurationVar(&c.MaxInterval, "max-interval", c.MaxInterval, "Idle time after which a room falls back")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Fallback sweep period")

	// Dispatcher flags
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "Delay between dispatcher scans")
	fs.DurationVar(&c.MinIntervalPerRoom, "min-interval-per-room", c.MinIntervalPerRoom, "Minimum time between sends per room")
	fs.IntVar(&c.BatchLimit, "batch-limit", c.BatchLimit, "Unsent records fetched per collection per scan")
	fs.StringSliceVar(&c.ExcludedCollections, "excluded-collections", c.ExcludedCollections, "Collections never dispatched")
	fs.StringSliceVar(&c.CreateCollections, "create-collections", c.CreateCollections, "Collections created in the source schema at startup if absent")
	fs.StringVar(&c.PipelineURL, "pipeline-url", c.PipelineURL, "Update endpoint for HTTP submission")
	fs.StringVar(&c.HealthURL, "health-url", c.HealthURL, "Health endpoint checked before dispatching")
	fs.DurationVar(&c.SubmitTimeout, "submit-timeout", c.SubmitTimeout, "Timeout per submitted record")
	fs.StringVar(&c.SubmitMode, "submit-mode", c.SubmitMode, "Submission mode (http, local)")
	fs.StringVar(&c.SourceID, "source-id", c.SourceID, "source_id stamped on dispatched readings")

	return fs.Parse(args)
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.MQTTEnabled {
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT broker is required")
		}
		if !validPort(c.MQTTPort) {
			return fmt.Errorf("MQTT port must be between 1 and 65535")
		}
	}
	if c.RedisEnabled {
		if c.RedisHost == "" {
			return fmt.Errorf("Redis host is required")
		}
		if !validPort(c.RedisPort) {
			return fmt.Errorf("Redis port must be between 1 and 65535")
		}
	}
	if !validPort(c.HealthPort) {
		return fmt.Errorf("Health port must be between 1 and 65535")
	}
	if !validPort(c.APIPort) {
		return fmt.Errorf("API port must be between 1 and 65535")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("Service name is required")
	}

	if c.MinInterval < 0 {
		return fmt.Errorf("min interval must not be negative")
	}
	if c.MaxInterval <= 0 {
		return fmt.Errorf("max interval must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.MinIntervalPerRoom < 0 {
		return fmt.Errorf("min interval per room must not be negative")
	}
	if c.BatchLimit <= 0 {
		return fmt.Errorf("batch limit must be positive")
	}

	switch c.SubmitMode {
	case "http":
		if c.PipelineURL == "" {
			return fmt.Errorf("pipeline URL is required in http submit mode")
		}
	case "local":
	default:
		return fmt.Errorf("invalid submit mode: %s (must be http or local)", c.SubmitMode)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// RedisAddress returns the full Redis address
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresConnectionString returns a lib/pq keyword/value connection string
func (c *Config) PostgresConnectionString() string {
	parts := []string{
		"host=" + quoteConnValue(c.PostgresHost),
		fmt.Sprintf("port=%d", c.PostgresPort),
		"user=" + quoteConnValue(c.PostgresUser),
		"dbname=" + quoteConnValue(c.PostgresDB),
		"sslmode=" + quoteConnValue(c.PostgresSSLMode),
	}
	if c.PostgresPassword != "" {
		parts = append(parts, "password="+quoteConnValue(c.PostgresPassword))
	}
	return strings.Join(parts, " ")
}

func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// envDuration accepts Go durations ("1500ms") or plain seconds ("2", "0.5")
func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
	}
}
