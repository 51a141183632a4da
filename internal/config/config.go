package config

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. DMSRELAY_GATEWAY_PORT.
const EnvPrefix = "DMSRELAY"

// legacyEnv maps the environment names used by existing deployments onto
// config keys.
var legacyEnv = map[string]string{
	"dms.jwt_secret":  "JWT_SECRET",
	"dms.channel_id":  "CHANNEL_ID",
	"dms.api_url":     "API_URL",
	"dms.webhook_url": "WEBHOOK_URL",
	"dms.status_url":  "STATUS_URL",
	"gateway.port":    "PORT",
}

// EnvNames lists the environment variables that feed the dms section,
// prefixed form first, sorted by key.
func EnvNames() []string {
	keys := make([]string, 0, len(legacyEnv))
	for key := range legacyEnv {
		if strings.HasPrefix(key, "dms.") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	names := make([]string, 0, 2*len(keys))
	for _, key := range keys {
		names = append(names, envName(key), legacyEnv[key])
	}
	return names
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Config is the root configuration.
type Config struct {
	Gateway     GatewayConfig     `mapstructure:"gateway" yaml:"gateway"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	DMS         DMSConfig         `mapstructure:"dms" yaml:"dms"`
	Identity    IdentityConfig    `mapstructure:"identity" yaml:"identity"`
	Tracker     TrackerConfig     `mapstructure:"tracker" yaml:"tracker"`
	Receipts    ReceiptsConfig    `mapstructure:"receipts" yaml:"receipts"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" yaml:"maintenance"`
}

// GatewayConfig configures the HTTP server.
type GatewayConfig struct {
	Port      int             `mapstructure:"port" yaml:"port"`
	Host      string          `mapstructure:"host" yaml:"host"`
	StaticDir string          `mapstructure:"static_dir" yaml:"static_dir"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// DMSConfig holds platform credentials and endpoints.
type DMSConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	ChannelID  string        `mapstructure:"channel_id" yaml:"channel_id"`
	APIURL     string        `mapstructure:"api_url" yaml:"api_url"`
	WebhookURL string        `mapstructure:"webhook_url" yaml:"webhook_url"`
	StatusURL  string        `mapstructure:"status_url" yaml:"status_url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Configured reports whether the settings required to send are present.
func (c DMSConfig) Configured() bool {
	return c.JWTSecret != "" && c.ChannelID != "" && c.APIURL != ""
}

// IdentityConfig configures customer identity resolution.
type IdentityConfig struct {
	// UUIDMap maps platform customer UUIDs to logical customer keys.
	UUIDMap map[string]string `mapstructure:"uuid_map" yaml:"uuid_map"`
}

// TrackerConfig configures the pending-send tracker.
type TrackerConfig struct {
	AckTimeout      time.Duration `mapstructure:"ack_timeout" yaml:"ack_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxPollDuration time.Duration `mapstructure:"max_poll_duration" yaml:"max_poll_duration"`
	MaxPending      int           `mapstructure:"max_pending" yaml:"max_pending"`
	SweepGrace      time.Duration `mapstructure:"sweep_grace" yaml:"sweep_grace"`
}

// SweepAge is the age past which a pending send is considered leaked.
func (c TrackerConfig) SweepAge() time.Duration {
	return c.AckTimeout + c.MaxPollDuration + c.SweepGrace
}

// ReceiptsConfig configures receipt publishing.
type ReceiptsConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	URL      string `mapstructure:"url" yaml:"url"`
	Exchange string `mapstructure:"exchange" yaml:"exchange"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// MaintenanceConfig holds the cron specs of background jobs. An empty spec
// disables the job.
type MaintenanceConfig struct {
	SweepSpec string `mapstructure:"sweep_spec" yaml:"sweep_spec"`
	StatsSpec string `mapstructure:"stats_spec" yaml:"stats_spec"`
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load reads configuration. Precedence: env > config file > defaults. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for key, env := range legacyEnv {
		// prefixed names still win over legacy ones
		_ = viper.BindEnv(key, envName(key), env)
	}

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, err
			}
		}
	}

	return unmarshal()
}

// Reload re-reads the config file, keeping env and defaults.
func Reload() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if configPath != "" {
		if err := viper.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return unmarshal()
}

// unmarshal decodes viper state into globalConfig. Caller holds mu.
func unmarshal() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last loaded configuration.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Path returns the config file in use, or "" when none was given.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configPath
}

// Get returns any config value.
func Get(key string) any {
	return viper.Get(key)
}

// GetString returns a string value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// AllSettings returns every resolved setting as a nested map.
func AllSettings() map[string]any {
	return viper.AllSettings()
}

// Set updates a value and persists it when a config file is in use.
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	viper.Set(key, value)

	if configPath != "" {
		return save()
	}
	return nil
}

// Save writes the current settings to the config file.
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

// save writes viper state. Caller holds mu.
func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}
	return writeYAML(configPath, viper.AllSettings())
}

// SaveTo writes cfg to path.
func SaveTo(cfg *Config, path string) error {
	return writeYAML(path, cfg)
}

// writeYAML uses 0600 since the file holds the platform secret.
func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Reset clears all state. Used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}

// SetTestConfig replaces the global config. Used by tests.
func SetTestConfig(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = cfg
}
