package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout, stderr, or file path
	EnableCaller bool   `json:"enable_caller"`
}

// MQTTConfig holds the settings for one broker connection
type MQTTConfig struct {
	BrokerHost     string        `json:"broker_host"`
	BrokerPort     int           `json:"broker_port"`
	BrokerUser     string        `json:"broker_user"`
	BrokerPass     string        `json:"broker_pass"`
	UseTLS         bool          `json:"use_tls"`
	CACertPath     string        `json:"ca_cert_path"`
	Topic          string        `json:"topic"`
	ClientID       string        `json:"client_id"`
	SharedGroup    string        `json:"shared_group"`
	QoS            byte          `json:"qos"`
	KeepAlive      time.Duration `json:"keep_alive"`
	PingTimeout    time.Duration `json:"ping_timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	PublishTimeout time.Duration `json:"publish_timeout"`
}

// DatabaseConfig holds the reading store settings
type DatabaseConfig struct {
	Driver         string        `json:"driver"` // postgres or mongo
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConns       int           `json:"max_conns"`
	MinConns       int           `json:"min_conns"`
	MongoURI       string        `json:"mongo_uri"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	AutoMigrate    bool          `json:"auto_migrate"`
}

// MetricsConfig configures the Pushgateway used by short-lived bridges
type MetricsConfig struct {
	PushgatewayURL string `json:"pushgateway_url"`
	JobName        string `json:"job_name"`
}

// ProcessConfig holds per-process lifecycle settings
type ProcessConfig struct {
	PIDFile string `json:"pid_file"`
	DryRun  bool   `json:"dry_run"`
}

// MarkConfig selects where a bridge keeps its last-seen watermark
type MarkConfig struct {
	Store    string    `json:"store"` // file, sqlite or device
	Path     string    `json:"path"`
	Fallback time.Time `json:"fallback"`
}

// ServerConfig holds the health server settings
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// LoaderConfig holds configuration for the reading loader service
type LoaderConfig struct {
	Server           ServerConfig   `json:"server"`
	MQTT             MQTTConfig     `json:"mqtt"`
	Database         DatabaseConfig `json:"database"`
	Logging          LoggingConfig  `json:"logging"`
	Process          ProcessConfig  `json:"process"`
	MaxJobs          int            `json:"max_jobs"`
	MaxMessageNumber int            `json:"max_message_number"`
	PollInterval     time.Duration  `json:"poll_interval"`
	DBPingAttempts   int            `json:"db_ping_attempts"`
	DBPingDelay      time.Duration  `json:"db_ping_delay"`
	LocationPolicy   string         `json:"location_policy"`
	AliasFile        string         `json:"alias_file"`
}

// ClarityConfig holds configuration for the Clarity bridge
type ClarityConfig struct {
	MQTT         MQTTConfig    `json:"mqtt"`
	Logging      LoggingConfig `json:"logging"`
	Process      ProcessConfig `json:"process"`
	Metrics      MetricsConfig `json:"metrics"`
	Mark         MarkConfig    `json:"mark"`
	BaseURL      string        `json:"base_url"`
	APIKey       string        `json:"api_key"`
	DevicePrefix string        `json:"device_prefix"`
	WindowStart  time.Duration `json:"window_start"` // how far back the window opens
	WindowEnd    time.Duration `json:"window_end"`   // how far back the window closes
	Average      string        `json:"average"`
	HTTPTimeout  time.Duration `json:"http_timeout"`
	AliasFile    string        `json:"alias_file"`
}

// DefraConfig holds configuration for the DEFRA bridge
type DefraConfig struct {
	MQTT         MQTTConfig     `json:"mqtt"`
	Database     DatabaseConfig `json:"database"`
	Logging      LoggingConfig  `json:"logging"`
	Process      ProcessConfig  `json:"process"`
	Metrics      MetricsConfig  `json:"metrics"`
	Mark         MarkConfig     `json:"mark"`
	MainURL      string         `json:"main_url"`
	AppendURL    string         `json:"append_url"`
	NeverSeen    time.Duration  `json:"never_seen"`
	DevicePrefix string         `json:"device_prefix"`
	HTTPTimeout  time.Duration  `json:"http_timeout"`
	StationsFile string         `json:"stations_file"`
}

// TTNConfig holds configuration for the TTN push bridge
type TTNConfig struct {
	Upstream     MQTTConfig    `json:"upstream"`
	MQTT         MQTTConfig    `json:"mqtt"`
	Logging      LoggingConfig `json:"logging"`
	Process      ProcessConfig `json:"process"`
	AppID        string        `json:"app_id"`
	Tenant       string        `json:"tenant"`
	MaxJobs      int           `json:"max_jobs"`
	PollInterval time.Duration `json:"poll_interval"`
	DevicePrefix string        `json:"device_prefix"`
	AliasFile    string        `json:"alias_file"`
}

// DevCheckerConfig holds configuration for the device visibility sweep
type DevCheckerConfig struct {
	Database          DatabaseConfig `json:"database"`
	Logging           LoggingConfig  `json:"logging"`
	Process           ProcessConfig  `json:"process"`
	DaysSinceLastSeen int            `json:"days_since_last_seen"`
}

const (
	LocationPolicyStrict = "strict"
	LocationPolicyLatLon = "lat-lon"

	MarkStoreFile   = "file"
	MarkStoreSQLite = "sqlite"
	MarkStoreDevice = "device"
)

func loadDotEnv() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

// LoadLoaderConfig loads configuration for the loader service
func LoadLoaderConfig() (*LoaderConfig, error) {
	loadDotEnv()

	cfg := &LoaderConfig{
		Server: ServerConfig{
			Port:         getEnv("HEALTH_PORT", "9003"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
		},
		MQTT:             loadMQTTConfig("", "airquality/data", "dbloader"),
		Database:         loadDatabaseConfig(),
		Logging:          loadLoggingConfig(),
		Process:          loadProcessConfig("/var/run/dbLoader.pid"),
		MaxJobs:          getInt("MAX_JOBS", 256),
		MaxMessageNumber: getInt("MAX_MESSAGE_NUMBER", 10000),
		PollInterval:     getDuration("POLL_INTERVAL", 100*time.Millisecond),
		DBPingAttempts:   getInt("DB_PING_ATTEMPTS", 5),
		DBPingDelay:      getDuration("DB_PING_DELAY", time.Second),
		LocationPolicy:   getEnv("LOCATION_POLICY", LocationPolicyStrict),
		AliasFile:        getEnv("LOADER_ALIAS_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the loader configuration
func (c *LoaderConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if c.MaxJobs <= 0 {
		return fmt.Errorf("MAX_JOBS must be positive")
	}
	if c.MaxMessageNumber <= 0 {
		return fmt.Errorf("MAX_MESSAGE_NUMBER must be positive")
	}
	if c.DBPingAttempts <= 0 {
		return fmt.Errorf("DB_PING_ATTEMPTS must be positive")
	}
	switch c.LocationPolicy {
	case LocationPolicyStrict, LocationPolicyLatLon:
	default:
		return fmt.Errorf("LOCATION_POLICY must be %q or %q, got %q", LocationPolicyStrict, LocationPolicyLatLon, c.LocationPolicy)
	}
	return nil
}

// LoadClarityConfig loads configuration for the Clarity bridge
func LoadClarityConfig() (*ClarityConfig, error) {
	loadDotEnv()

	cfg := &ClarityConfig{
		MQTT:         loadMQTTConfig("", "airquality/data", "claritybridge"),
		Logging:      loadLoggingConfig(),
		Process:      loadProcessConfig("/var/run/clarityBridge.pid"),
		Metrics:      loadMetricsConfig("clarity_bridge"),
		Mark:         loadMarkConfig(MarkStoreFile, "clarity_last_seen.txt", time.Date(2018, 8, 1, 0, 0, 0, 0, time.UTC)),
		BaseURL:      strings.TrimRight(getEnv("CLARITY_BASE_URL", "https://clarity-data-api.clarity.io/v1"), "/"),
		APIKey:       os.Getenv("CLARITY_API_KEY"),
		DevicePrefix: getEnv("CLARITY_DEVICE_PREFIX", "CL-"),
		WindowStart:  getDuration("CLARITY_WINDOW_START", 2*time.Hour),
		WindowEnd:    getDuration("CLARITY_WINDOW_END", time.Hour),
		Average:      getEnv("CLARITY_AVERAGE", "hour"),
		HTTPTimeout:  getDuration("HTTP_TIMEOUT", 30*time.Second),
		AliasFile:    getEnv("CLARITY_ALIAS_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the Clarity configuration
func (c *ClarityConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("CLARITY_API_KEY is required")
	}
	if c.WindowEnd >= c.WindowStart {
		return fmt.Errorf("CLARITY_WINDOW_END (%s) must be shorter than CLARITY_WINDOW_START (%s)", c.WindowEnd, c.WindowStart)
	}
	return c.Mark.Validate()
}

// LoadDefraConfig loads configuration for the DEFRA bridge
func LoadDefraConfig() (*DefraConfig, error) {
	loadDotEnv()

	neverSeen := getDuration("DEFRA_NEVER_SEEN", 14*24*time.Hour)
	cfg := &DefraConfig{
		MQTT:         loadMQTTConfig("", "airquality/data", "defrabridge"),
		Database:     loadDatabaseConfig(),
		Logging:      loadLoggingConfig(),
		Process:      loadProcessConfig("/var/run/defraBridge.pid"),
		Metrics:      loadMetricsConfig("defra_bridge"),
		Mark:         loadMarkConfig(MarkStoreDevice, "defra_marks.db", time.Now().UTC().Add(-neverSeen)),
		MainURL:      getEnv("DEFRA_MAIN_URL", "https://uk-air.defra.gov.uk/sos-ukair/api/v1/timeseries/"),
		AppendURL:    getEnv("DEFRA_APPEND_URL", "/getData?timespan="),
		NeverSeen:    neverSeen,
		DevicePrefix: getEnv("DEFRA_DEVICE_PREFIX", ""),
		HTTPTimeout:  getDuration("HTTP_TIMEOUT", 30*time.Second),
		StationsFile: getEnv("DEFRA_STATIONS_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the DEFRA configuration
func (c *DefraConfig) Validate() error {
	if c.MainURL == "" {
		return fmt.Errorf("DEFRA_MAIN_URL is required")
	}
	if err := c.Mark.Validate(); err != nil {
		return err
	}
	// a file holds one mark but every DEFRA station needs its own
	if c.Mark.Store == MarkStoreFile {
		return fmt.Errorf("MARK_STORE=%s cannot keep per-station marks, use %s or %s", MarkStoreFile, MarkStoreSQLite, MarkStoreDevice)
	}
	if c.Mark.Store == MarkStoreDevice {
		return c.Database.Validate()
	}
	return nil
}

// LoadTTNConfig loads configuration for the TTN bridge
func LoadTTNConfig() (*TTNConfig, error) {
	loadDotEnv()

	appID := os.Getenv("TTN_APP_ID")
	tenant := getEnv("TTN_TENANT", "ttn")
	upstream := loadMQTTConfig("TTN_", fmt.Sprintf("v3/%s@%s/devices/+/up", appID, tenant), "ttnbridge")
	if upstream.BrokerUser == "" && appID != "" {
		upstream.BrokerUser = appID + "@" + tenant
	}

	cfg := &TTNConfig{
		Upstream:     upstream,
		MQTT:         loadMQTTConfig("", "airquality/data", "ttnbridge-pub"),
		Logging:      loadLoggingConfig(),
		Process:      loadProcessConfig("/var/run/ttnBridge.pid"),
		AppID:        appID,
		Tenant:       tenant,
		MaxJobs:      getInt("MAX_JOBS", 256),
		PollInterval: getDuration("POLL_INTERVAL", 100*time.Millisecond),
		DevicePrefix: getEnv("TTN_DEVICE_PREFIX", ""),
		AliasFile:    getEnv("TTN_ALIAS_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the TTN configuration
func (c *TTNConfig) Validate() error {
	if c.AppID == "" {
		return fmt.Errorf("TTN_APP_ID is required")
	}
	if c.Upstream.BrokerPass == "" {
		return fmt.Errorf("TTN_BROKER_PASS (application access key) is required")
	}
	if c.MaxJobs <= 0 {
		return fmt.Errorf("MAX_JOBS must be positive")
	}
	return nil
}

// LoadDevCheckerConfig loads configuration for the device visibility sweep
func LoadDevCheckerConfig() (*DevCheckerConfig, error) {
	loadDotEnv()

	cfg := &DevCheckerConfig{
		Database:          loadDatabaseConfig(),
		Logging:           loadLoggingConfig(),
		Process:           loadProcessConfig("/var/run/devChecker.pid"),
		DaysSinceLastSeen: getInt("DAYS_SINCE_LAST_SEEN", 31),
	}

	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if cfg.DaysSinceLastSeen <= 0 {
		return nil, fmt.Errorf("configuration validation failed: DAYS_SINCE_LAST_SEEN must be positive")
	}
	return cfg, nil
}

// Validate validates the database configuration
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "postgres":
		if d.User == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
		if d.Password == "" {
			return fmt.Errorf("POSTGRES_PASSWORD is required")
		}
	case "mongo":
		if d.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required when STORE_DRIVER=mongo")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", d.Driver)
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// Validate validates the mark store selection
func (m *MarkConfig) Validate() error {
	switch m.Store {
	case MarkStoreFile, MarkStoreSQLite:
		if m.Path == "" {
			return fmt.Errorf("MARK_PATH is required for mark store %q", m.Store)
		}
	case MarkStoreDevice:
	default:
		return fmt.Errorf("unsupported MARK_STORE %q", m.Store)
	}
	return nil
}

// BrokerURL returns the MQTT broker URL
func (m *MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if m.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.BrokerHost, m.BrokerPort)
}

func loadMQTTConfig(prefix, defaultTopic, defaultClientID string) MQTTConfig {
	port := 1883
	if getBool(prefix+"BROKER_TLS", false) {
		port = 8883
	}
	return MQTTConfig{
		BrokerHost:     getEnv(prefix+"BROKER_HOST", "localhost"),
		BrokerPort:     getInt(prefix+"BROKER_PORT", port),
		BrokerUser:     getEnv(prefix+"BROKER_USER", ""),
		BrokerPass:     getEnv(prefix+"BROKER_PASS", ""),
		UseTLS:         getBool(prefix+"BROKER_TLS", false),
		CACertPath:     getEnv(prefix+"BROKER_CA_FILE", ""),
		Topic:          getEnv(prefix+"MQTT_TOPIC", defaultTopic),
		ClientID:       getEnv(prefix+"MQTT_CLIENT_ID", defaultClientID),
		SharedGroup:    getEnv(prefix+"MQTT_SHARED_GROUP", ""),
		QoS:            byte(getInt(prefix+"MQTT_QOS", 1)),
		KeepAlive:      getDuration(prefix+"MQTT_KEEP_ALIVE", 60*time.Second),
		PingTimeout:    getDuration(prefix+"MQTT_PING_TIMEOUT", 10*time.Second),
		ConnectTimeout: getDuration(prefix+"MQTT_CONNECT_TIMEOUT", 20*time.Second),
		PublishTimeout: getDuration(prefix+"MQTT_PUBLISH_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:         getEnv("STORE_DRIVER", "postgres"),
		Host:           getEnv("POSTGRES_HOST", "localhost"),
		Port:           getInt("POSTGRES_PORT", 5432),
		User:           getEnv("POSTGRES_USER", ""),
		Password:       getEnv("POSTGRES_PASSWORD", ""),
		DBName:         getEnv("POSTGRES_DB", "aq"),
		SSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
		MaxConns:       getInt("POSTGRES_MAX_CONNS", 5),
		MinConns:       getInt("POSTGRES_MIN_CONNS", 1),
		MongoURI:       getEnv("MONGODB_URI", ""),
		ConnectTimeout: getDuration("DB_CONNECT_TIMEOUT", 20*time.Second),
		AutoMigrate:    getBool("DB_AUTO_MIGRATE", false),
	}
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:        getEnv("LOG_LEVEL", "info"),
		Format:       getEnv("LOG_FORMAT", "text"),
		Output:       getEnv("LOG_OUTPUT", "stdout"),
		EnableCaller: getBool("LOG_ENABLE_CALLER", false),
	}
}

func loadProcessConfig(defaultPIDFile string) ProcessConfig {
	return ProcessConfig{
		PIDFile: getEnv("PID_FILE", defaultPIDFile),
		DryRun:  getBool("DRY_RUN", false),
	}
}

func loadMetricsConfig(defaultJob string) MetricsConfig {
	return MetricsConfig{
		PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),
		JobName:        getEnv("METRICS_JOB", defaultJob),
	}
}

func loadMarkConfig(defaultStore, defaultPath string, fallback time.Time) MarkConfig {
	return MarkConfig{
		Store:    getEnv("MARK_STORE", defaultStore),
		Path:     getEnv("MARK_PATH", defaultPath),
		Fallback: getTime("MARK_FALLBACK", fallback),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

func getTime(key string, defaultValue time.Time) time.Time {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return t.UTC()
}
