// Package config loads the service configuration from environment variables and an optional
// YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	configFileName = "addressbooks"
	configFileType = "yaml"

	// Config keys. With AutomaticEnv every key is also read from the upper case environment
	// variable of the same name, e.g. PORT or DBHOST.
	keyPort        = "port"
	keyDBDriver    = "dbdriver"
	keyDBHost      = "dbhost"
	keyDBUser      = "dbuser"
	keyDBPassword  = "dbpwd"
	keyDBName      = "dbname"
	keyDBFile      = "dbfile"
	keyGinLogging  = "gin_logging"
	keyLogLevel    = "log_level"
	keyDefaultUser = "default_user"
	keyCacheSize   = "cache_size"
	keyBackends    = "backends"
)

// Backend types.
const (
	TypeSQL    = "sql"
	TypeMemory = "memory"
)

// Database drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Backend configures one address book backend.
type Backend struct {
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
	ReadOnly bool   `mapstructure:"readonly"`
}

// Config is the complete service configuration.
type Config struct {
	Port        int
	DBDriver    string
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBFile      string
	GinLogging  bool
	LogLevel    string
	DefaultUser string
	CacheSize   int
	Backends    []Backend
}

// defaultBackends is used when no backends are configured: the database for the user's own
// address books and an in-memory scratch backend for shared ones.
var defaultBackends = []Backend{
	{Name: "local", Type: TypeSQL},
	{Name: "shared", Type: TypeMemory},
}

// Load reads the configuration. If configFile is empty, addressbooks.yaml in the working
// directory is read if it exists; a missing file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault(keyPort, 8080)
	v.SetDefault(keyDBDriver, DriverMySQL)
	v.SetDefault(keyDBHost, "localhost")
	v.SetDefault(keyDBName, "test")
	v.SetDefault(keyDBFile, "addressbooks.db")
	v.SetDefault(keyGinLogging, "on")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyCacheSize, 4096)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Port:        v.GetInt(keyPort),
		DBDriver:    strings.ToLower(v.GetString(keyDBDriver)),
		DBHost:      v.GetString(keyDBHost),
		DBUser:      v.GetString(keyDBUser),
		DBPassword:  v.GetString(keyDBPassword),
		DBName:      v.GetString(keyDBName),
		DBFile:      v.GetString(keyDBFile),
		GinLogging:  !strings.EqualFold(v.GetString(keyGinLogging), "off"),
		LogLevel:    v.GetString(keyLogLevel),
		DefaultUser: v.GetString(keyDefaultUser),
		CacheSize:   v.GetInt(keyCacheSize),
	}
	backends, err := loadBackends(v)
	if err != nil {
		return nil, err
	}
	cfg.Backends = backends
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBackends reads the backend list. In YAML it is a list of objects; in the BACKENDS
// environment variable it is a comma separated list of name:type[:readonly] entries, e.g.
// "local:sql,shared:memory:readonly".
func loadBackends(v *viper.Viper) ([]Backend, error) {
	raw := v.Get(keyBackends)
	if raw == nil {
		return append([]Backend(nil), defaultBackends...), nil
	}
	if s, ok := raw.(string); ok {
		return parseBackends(s)
	}
	var backends []Backend
	if err := v.UnmarshalKey(keyBackends, &backends); err != nil {
		return nil, fmt.Errorf("read backends: %w", err)
	}
	return backends, nil
}

func parseBackends(s string) ([]Backend, error) {
	var backends []Backend
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid backend %q, expected name:type[:readonly]", entry)
		}
		b := Backend{Name: parts[0], Type: parts[1]}
		if len(parts) == 3 {
			if parts[2] != "readonly" {
				return nil, fmt.Errorf("invalid backend %q, expected name:type[:readonly]", entry)
			}
			b.ReadOnly = true
		}
		backends = append(backends, b)
	}
	return backends, nil
}

// Validate checks the values that cannot be checked by the components themselves.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBDriver != DriverMySQL && c.DBDriver != DriverSQLite {
		return fmt.Errorf("invalid database driver %q", c.DBDriver)
	}
	if len(c.Backends) == 0 {
		return errors.New("no backends configured")
	}
	names := map[string]bool{}
	sqlBackends := 0
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("backend without name")
		}
		if names[b.Name] {
			return fmt.Errorf("duplicate backend %q", b.Name)
		}
		names[b.Name] = true
		switch b.Type {
		case TypeSQL:
			sqlBackends++
		case TypeMemory:
		default:
			return fmt.Errorf("backend %q has invalid type %q", b.Name, b.Type)
		}
	}
	// All sql backends would share the same tables.
	if sqlBackends > 1 {
		return errors.New("only one sql backend is supported")
	}
	return nil
}

// DSN returns the data source name for the configured database driver. MySQL reports matched
// instead of changed rows, so that an update without changes still finds its row.
func (c *Config) DSN() string {
	if c.DBDriver == DriverSQLite {
		return c.DBFile
	}
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&clientFoundRows=true", c.DBUser, c.DBPassword, c.DBHost, c.DBName)
}
