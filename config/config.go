// Package config provides CLI configuration management for the twx
// command-line tool. It supports loading configuration from YAML files,
// environment variables, and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatTable is the adaptive table rendering.
	OutputFormatTable OutputFormat = "table"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatCSV is comma-separated output for spreadsheets.
	OutputFormatCSV OutputFormat = "csv"
)

// BackendKind identifies which backend a connection talks to.
type BackendKind string

const (
	// KindADT is the digital-twins REST API (Azure Digital Twins or
	// Konnektr Graph).
	KindADT BackendKind = "adt"
	// KindAGE is an Apache AGE graph in PostgreSQL.
	KindAGE BackendKind = "age"
	// KindNeo4j is a Neo4j database over Bolt.
	KindNeo4j BackendKind = "neo4j"
)

// Default configuration values.
const (
	DefaultTimeout      = 2 * time.Minute
	DefaultOutputFormat = OutputFormatTable
	DefaultConfigDir    = ".twx"
	DefaultConfigFile   = "config.yaml"
	DefaultServeAddr    = ":8080"
)

// Connection describes one configured backend.
type Connection struct {
	// Name is the handle used on the command line.
	Name string `yaml:"name"`

	// Kind selects the backend adapter.
	Kind BackendKind `yaml:"kind"`

	// Endpoint is the service host (adt), PostgreSQL connection string
	// (age), or Bolt URI (neo4j).
	Endpoint string `yaml:"endpoint"`

	// Graph is the AGE graph name; ignored by other kinds.
	Graph string `yaml:"graph,omitempty"`

	// Database selects the Neo4j database; ignored by other kinds.
	Database string `yaml:"database,omitempty"`

	// Username authenticates age and neo4j connections. ADT uses bearer
	// tokens stored by the credential store instead.
	Username string `yaml:"username,omitempty"`

	// TLS overrides transport security for adt endpoints that use a
	// private CA or require a client certificate. age and neo4j carry TLS
	// settings in their connection strings.
	TLS *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig holds certificate paths for a connection. Paths may start
// with ~ and are expanded before use.
type TLSConfig struct {
	// CACert pins the server certificate authority.
	CACert string `yaml:"ca_cert,omitempty"`

	// ClientCert and ClientKey enable mutual TLS.
	ClientCert string `yaml:"client_cert,omitempty"`
	ClientKey  string `yaml:"client_key,omitempty"`

	// SkipVerify disables server certificate verification.
	SkipVerify bool `yaml:"skip_verify,omitempty"`
}

// ResolvePaths expands ~ in all certificate paths.
func (t *TLSConfig) ResolvePaths() error {
	for _, p := range []*string{&t.CACert, &t.ClientCert, &t.ClientKey} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// Validate checks that the TLS settings are coherent.
func (t *TLSConfig) Validate() error {
	if (t.ClientCert == "") != (t.ClientKey == "") {
		return fmt.Errorf("client_cert and client_key must be set together")
	}
	return nil
}

// Validate checks that a connection is usable.
func (c *Connection) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("connection name is required")
	}
	switch c.Kind {
	case KindADT, KindNeo4j:
	case KindAGE:
		if c.Graph == "" {
			return fmt.Errorf("connection %q: graph name is required for kind age", c.Name)
		}
	default:
		return fmt.Errorf("connection %q: unknown kind %q (must be adt, age, or neo4j)", c.Name, c.Kind)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("connection %q: endpoint is required", c.Name)
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("connection %q: %w", c.Name, err)
		}
	}
	return nil
}

// HistoryConfig selects where command history is stored.
type HistoryConfig struct {
	// Disabled turns history recording off entirely.
	Disabled bool `yaml:"disabled,omitempty"`

	// Database is an optional PostgreSQL connection string for shared
	// history. Empty means the local file store.
	Database string `yaml:"database,omitempty"`
}

// ServerConfig holds settings for the twx serve proxy.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr,omitempty"`

	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	// ControlPlaneURL is the base URL the /api/ktrlplane proxy forwards to.
	ControlPlaneURL string `yaml:"control_plane_url,omitempty"`

	// RedisAddr enables response caching for proxied GET requests when set.
	RedisAddr string `yaml:"redis_addr,omitempty"`

	// CacheTTL bounds how long cached responses are served.
	CacheTTL time.Duration `yaml:"-"`
}

// CLIConfig holds the CLI configuration settings.
type CLIConfig struct {
	// Connections are the configured backends.
	Connections []Connection `yaml:"connections,omitempty"`

	// CurrentConnection names the connection used when --connection is
	// not given.
	CurrentConnection string `yaml:"current_connection,omitempty"`

	// Timeout is the default timeout for backend requests.
	Timeout time.Duration `yaml:"timeout"`

	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format"`

	// DisplayNames renders model display names instead of raw property
	// names in tables.
	DisplayNames bool `yaml:"display_names,omitempty"`

	// Debug enables verbose debug logging.
	Debug bool `yaml:"debug,omitempty"`

	// History selects where command history goes.
	History HistoryConfig `yaml:"history,omitempty"`

	// Server configures the twx serve proxy.
	Server ServerConfig `yaml:"server,omitempty"`
}

// DefaultConfig returns a CLIConfig with default values.
func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		Timeout:      DefaultTimeout,
		OutputFormat: DefaultOutputFormat,
		Server: ServerConfig{
			Addr:     DefaultServeAddr,
			CacheTTL: 30 * time.Second,
		},
	}
}

// ConfigDir returns the configuration directory path.
// Uses $TWX_CONFIG_DIR if set, otherwise ~/.twx
func ConfigDir() (string, error) {
	if dir := os.Getenv("TWX_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the CLI configuration from file and environment variables.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file (~/.twx/config.yaml or $TWX_CONFIG_DIR/config.yaml)
// 3. Environment variables (TWX_CONNECTION, TWX_TIMEOUT, TWX_OUTPUT_FORMAT, ...)
func LoadConfig() (*CLIConfig, error) {
	cfg := DefaultConfig()

	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// fileConfig mirrors CLIConfig with durations as strings for YAML.
type fileConfig struct {
	Connections       []Connection  `yaml:"connections,omitempty"`
	CurrentConnection string        `yaml:"current_connection,omitempty"`
	Timeout           string        `yaml:"timeout,omitempty"`
	OutputFormat      OutputFormat  `yaml:"output_format,omitempty"`
	DisplayNames      bool          `yaml:"display_names,omitempty"`
	Debug             bool          `yaml:"debug,omitempty"`
	History           HistoryConfig `yaml:"history,omitempty"`
	Server            struct {
		Addr            string   `yaml:"addr,omitempty"`
		AllowedOrigins  []string `yaml:"allowed_origins,omitempty"`
		ControlPlaneURL string   `yaml:"control_plane_url,omitempty"`
		RedisAddr       string   `yaml:"redis_addr,omitempty"`
		CacheTTL        string   `yaml:"cache_ttl,omitempty"`
	} `yaml:"server,omitempty"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *CLIConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fileCfg fileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if len(fileCfg.Connections) > 0 {
		cfg.Connections = fileCfg.Connections
	}
	if fileCfg.CurrentConnection != "" {
		cfg.CurrentConnection = fileCfg.CurrentConnection
	}
	if fileCfg.Timeout != "" {
		timeout, err := time.ParseDuration(fileCfg.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		cfg.Timeout = timeout
	}
	if fileCfg.OutputFormat != "" {
		cfg.OutputFormat = fileCfg.OutputFormat
	}
	cfg.DisplayNames = fileCfg.DisplayNames
	cfg.Debug = fileCfg.Debug
	cfg.History = fileCfg.History

	if fileCfg.Server.Addr != "" {
		cfg.Server.Addr = fileCfg.Server.Addr
	}
	if len(fileCfg.Server.AllowedOrigins) > 0 {
		cfg.Server.AllowedOrigins = fileCfg.Server.AllowedOrigins
	}
	if fileCfg.Server.ControlPlaneURL != "" {
		cfg.Server.ControlPlaneURL = fileCfg.Server.ControlPlaneURL
	}
	if fileCfg.Server.RedisAddr != "" {
		cfg.Server.RedisAddr = fileCfg.Server.RedisAddr
	}
	if fileCfg.Server.CacheTTL != "" {
		ttl, err := time.ParseDuration(fileCfg.Server.CacheTTL)
		if err != nil {
			return fmt.Errorf("parsing server cache_ttl: %w", err)
		}
		cfg.Server.CacheTTL = ttl
	}

	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *CLIConfig) {
	if v := os.Getenv("TWX_CONNECTION"); v != "" {
		cfg.CurrentConnection = v
	}

	if v := os.Getenv("TWX_TIMEOUT"); v != "" {
		if timeout, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = timeout
		}
	}

	if v := os.Getenv("TWX_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}

	if v := os.Getenv("TWX_DISPLAY_NAMES"); v == "true" || v == "1" {
		cfg.DisplayNames = true
	}

	if v := os.Getenv("TWX_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}

	if v := os.Getenv("TWX_HISTORY_DISABLED"); v == "true" || v == "1" {
		cfg.History.Disabled = true
	}

	if v := os.Getenv("TWX_HISTORY_DATABASE"); v != "" {
		cfg.History.Database = v
	}

	if v := os.Getenv("TWX_SERVE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}

	if v := os.Getenv("TWX_SERVE_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}

	if v := os.Getenv("TWX_CONTROL_PLANE_URL"); v != "" {
		cfg.Server.ControlPlaneURL = v
	}

	if v := os.Getenv("TWX_REDIS_ADDR"); v != "" {
		cfg.Server.RedisAddr = v
	}
}

// Validate checks that the configuration is valid.
func (c *CLIConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be table, json, or csv)", c.OutputFormat)
	}

	seen := map[string]bool{}
	for i := range c.Connections {
		conn := &c.Connections[i]
		if err := conn.Validate(); err != nil {
			return err
		}
		if seen[conn.Name] {
			return fmt.Errorf("duplicate connection name %q", conn.Name)
		}
		seen[conn.Name] = true
	}

	if c.CurrentConnection != "" && !seen[c.CurrentConnection] {
		return fmt.Errorf("current_connection %q is not a configured connection", c.CurrentConnection)
	}

	return nil
}

// Connection returns the named connection, or the current one when name is
// empty.
func (c *CLIConfig) Connection(name string) (*Connection, error) {
	if name == "" {
		name = c.CurrentConnection
	}
	if name == "" {
		return nil, fmt.Errorf("no connection selected: use --connection or 'twx connection use'")
	}
	for i := range c.Connections {
		if c.Connections[i].Name == name {
			return &c.Connections[i], nil
		}
	}
	return nil, fmt.Errorf("connection %q is not configured", name)
}

// AddConnection inserts or replaces a connection by name.
func (c *CLIConfig) AddConnection(conn Connection) error {
	if err := conn.Validate(); err != nil {
		return err
	}
	for i := range c.Connections {
		if c.Connections[i].Name == conn.Name {
			c.Connections[i] = conn
			return nil
		}
	}
	c.Connections = append(c.Connections, conn)
	return nil
}

// RemoveConnection deletes a connection by name.
func (c *CLIConfig) RemoveConnection(name string) error {
	for i := range c.Connections {
		if c.Connections[i].Name == name {
			c.Connections = append(c.Connections[:i], c.Connections[i+1:]...)
			if c.CurrentConnection == name {
				c.CurrentConnection = ""
			}
			return nil
		}
	}
	return fmt.Errorf("connection %q is not configured", name)
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatCSV:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig saves the configuration to the config file.
func SaveConfig(cfg *CLIConfig) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var fileCfg fileConfig
	fileCfg.Connections = cfg.Connections
	fileCfg.CurrentConnection = cfg.CurrentConnection
	fileCfg.Timeout = cfg.Timeout.String()
	fileCfg.OutputFormat = cfg.OutputFormat
	fileCfg.DisplayNames = cfg.DisplayNames
	fileCfg.Debug = cfg.Debug
	fileCfg.History = cfg.History
	fileCfg.Server.Addr = cfg.Server.Addr
	fileCfg.Server.AllowedOrigins = cfg.Server.AllowedOrigins
	fileCfg.Server.ControlPlaneURL = cfg.Server.ControlPlaneURL
	fileCfg.Server.RedisAddr = cfg.Server.RedisAddr
	if cfg.Server.CacheTTL > 0 {
		fileCfg.Server.CacheTTL = cfg.Server.CacheTTL.String()
	}

	data, err := yaml.Marshal(&fileCfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
