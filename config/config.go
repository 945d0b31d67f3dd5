// Package config contains configuration options for programs built on
// bramble: which store engine to open, where its data lives, and how logging
// is set up. Config files are YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kettleside/bramble/logging"
)

// DBType is the kind of store engine a Database config refers to.
type DBType string

const (
	DatabaseNone     DBType = "none"
	DatabaseInMemory DBType = "inmem"
	DatabaseSQLite   DBType = "sqlite"
)

func (t DBType) String() string {
	return string(t)
}

// ParseDBType parses a string found in a configuration file into a DBType.
func ParseDBType(s string) (DBType, error) {
	switch strings.ToLower(s) {
	case "inmem", "memory", "":
		return DatabaseInMemory, nil
	case "sqlite":
		return DatabaseSQLite, nil
	default:
		return DatabaseNone, fmt.Errorf("DB type %q is not one of 'inmem' or 'sqlite'", s)
	}
}

// Database holds the connection options for a store.
type Database struct {
	// Type is the engine to use.
	Type DBType `yaml:"type"`

	// Connector is the name of a registered connector to open the store
	// with. If unset, the default connector for the engine is used.
	Connector string `yaml:"connector"`

	// Dir is the directory the engine keeps its data files in. Created if
	// it does not exist.
	Dir string `yaml:"dir"`

	// File is the data file name within Dir. Engines that can run without
	// one (inmem) treat an empty File as "do not persist".
	File string `yaml:"file"`
}

func (db Database) FillDefaults() Database {
	newDB := db
	if newDB.Type == DatabaseNone || newDB.Type == "" {
		newDB.Type = DatabaseInMemory
	}
	return newDB
}

func (db Database) Validate() error {
	if _, err := ParseDBType(string(db.Type)); err != nil {
		return err
	}
	if db.Type == DatabaseSQLite && db.File == "" {
		return fmt.Errorf("sqlite DB requires a data file")
	}
	return nil
}

// Log contains logging options. If logging is enabled, programs create their
// logger from here and pass it on to the repositories they construct.
type Log struct {
	// Enabled is whether to enable built-in logging statements.
	Enabled bool `yaml:"enabled"`

	// Provider must be the name of one of the logging providers. If left
	// unset, it will default to logging.Jellog.
	Provider string `yaml:"provider"`

	// File to log to. If not set, all logging will be done to stderr and it
	// will display all logging statements. If set, the file will receive
	// all levels of log messages and stderr will show only those of Info
	// level or higher.
	File string `yaml:"file"`
}

func (log Log) FillDefaults() Log {
	newLog := log
	if newLog.Provider == "" {
		newLog.Provider = logging.Jellog.String()
	}
	return newLog
}

func (log Log) Validate() error {
	_, err := logging.ParseProvider(log.Provider)
	return err
}

// Create builds the configured logger. A disabled Log produces a no-op
// logger rather than an error, so callers never need to branch on Enabled.
func (log Log) Create() (logging.Logger, error) {
	if !log.Enabled {
		return logging.NoOpLogger{}, nil
	}

	p, err := logging.ParseProvider(log.Provider)
	if err != nil {
		return nil, err
	}
	if p == logging.None {
		p = logging.Jellog
	}
	return logging.New(p, log.File)
}

// Config is a complete bramble program configuration.
type Config struct {
	// Listen is the address programs that serve HTTP bind to, in
	// "ADDRESS:PORT" form. Defaults to ":8080". Library-only consumers may
	// ignore it.
	Listen string `yaml:"listen"`

	DB  Database `yaml:"db"`
	Log Log      `yaml:"log"`
}

func (cfg Config) FillDefaults() Config {
	newCfg := cfg
	if newCfg.Listen == "" {
		newCfg.Listen = ":8080"
	}
	newCfg.DB = newCfg.DB.FillDefaults()
	newCfg.Log = newCfg.Log.FillDefaults()
	return newCfg
}

func (cfg Config) Validate() error {
	if err := cfg.DB.Validate(); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := cfg.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// Load reads a YAML configuration from file, fills defaults, and validates
// it.
func Load(file string) (Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg = cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Dump serializes a Config back to YAML bytes.
func Dump(cfg Config) []byte {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		// a Config is always marshalable; this cannot actually occur
		panic(fmt.Sprintf("marshal config: %v", err))
	}
	return data
}
