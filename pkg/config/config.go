// Package config provides configuration management for Cachem server and client components.
//
// The package supports configuration through multiple sources with the following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables
//  3. Default values (lowest priority)
//
// Server Configuration:
//   - Host and port binding settings
//   - Connection limits and timeouts
//   - Logging configuration
//   - Snapshot backend selection
//
// Client Configuration:
//   - Server address
//   - Connection pooling parameters
//   - Retry policies and timeouts
//
// Example server usage:
//
//	cfg, err := config.LoadServerConfig(flag.CommandLine, os.Args[1:])
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// Example client usage:
//
//	cfg, err := config.LoadClientConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg.Address = "cache1:9999"
//	c, err := client.New(cfg)
//
// Environment variables are prefixed with "CACHEM_" and use uppercase names.
// For example, the server port can be set with CACHEM_PORT=9999.
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/cachem/cachem/pkg/codec"
	"github.com/cachem/cachem/pkg/logging"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CACHEM_"

// Default configuration constants
const (
	DefaultServerPort        = 9999
	DefaultMaxConnections    = 1000
	DefaultReadTimeoutSecs   = 30
	DefaultWriteTimeoutSecs  = 10
	DefaultMaxConnsPerClient = 10
	DefaultConnTimeoutSecs   = 5
	DefaultRetryAttempts     = 3
	DefaultAcquireTimeoutSec = 1
	DefaultDataDir           = "data"
	DefaultRedisPrefix       = "cachem:"
)

// Snapshot backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// ServerConfig holds all configuration options for a Cachem server instance.
//
// Configuration sources (in order of precedence):
//  1. Command-line flags: -port, -host, -max-conns, etc.
//  2. Environment variables: CACHEM_PORT, CACHEM_HOST, etc.
//  3. Default values
//
// Timeouts are in seconds. A read or write timeout of 0 disables the
// corresponding connection deadline.
type ServerConfig struct {
	Host            string // Host address to bind to (default: "0.0.0.0")
	LogLevel        string // Log level: debug, info, warn, error (default: "info")
	LogFormat       string // Log format: text, json (default: "text")
	DataDir         string // Directory of file snapshots (default: "data")
	SnapshotBackend string // Snapshot backend: file, redis, none (default: "file")
	RedisAddr       string // Redis address for the redis backend
	RedisPrefix     string // Key prefix for the redis backend (default: "cachem:")
	Port            int    // TCP port to listen on (default: 9999)
	MaxConns        int    // Maximum concurrent connections (default: 1000)
	ReadTimeout     int    // Idle read timeout in seconds (default: 30)
	WriteTimeout    int    // Write timeout in seconds (default: 10)
	MaxSequenceLen  int    // Largest sequence or string accepted in a request
}

// ClientConfig holds all configuration options for a Cachem client instance.
//
// Configuration sources (in order of precedence):
//  1. Programmatic configuration
//  2. Environment variables: CACHEM_ADDRESS, CACHEM_MAX_CONNS, etc.
//  3. Default values
type ClientConfig struct {
	Address        string // Server address (default: "localhost:9999")
	MaxConns       int    // Max pooled connections (default: 10)
	ConnTimeout    int    // Dial timeout in seconds (default: 5)
	ReadTimeout    int    // Read timeout in seconds (default: 30)
	WriteTimeout   int    // Write timeout in seconds (default: 10)
	RetryAttempts  int    // Number of retry attempts (default: 3)
	AcquireTimeout int    // Seconds to wait for a pooled connection (default: 1)
}

// DefaultServerConfig returns a ServerConfig holding only default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "0.0.0.0",
		Port:            DefaultServerPort,
		MaxConns:        DefaultMaxConnections,
		ReadTimeout:     DefaultReadTimeoutSecs,
		WriteTimeout:    DefaultWriteTimeoutSecs,
		LogLevel:        logging.LevelInfo,
		LogFormat:       logging.FormatText,
		DataDir:         DefaultDataDir,
		SnapshotBackend: BackendFile,
		RedisPrefix:     DefaultRedisPrefix,
		MaxSequenceLen:  codec.DefaultMaxLen,
	}
}

// LoadServerConfig creates a ServerConfig from defaults, environment
// variables and the command-line arguments parsed with fs.
//
// Command-line flags:
//
//	-port: Server port (default: 9999)
//	-host: Server host (default: "0.0.0.0")
//	-max-conns: Maximum connections (default: 1000)
//	-read-timeout: Read timeout in seconds, 0 disables (default: 30)
//	-write-timeout: Write timeout in seconds, 0 disables (default: 10)
//	-log-level: Log level (default: "info")
//	-log-format: Log format (default: "text")
//	-data-dir: Snapshot directory (default: "data")
//	-snapshot: Snapshot backend (default: "file")
//	-redis-addr: Redis address for the redis backend
//	-redis-prefix: Redis key prefix (default: "cachem:")
//	-max-seq-len: Maximum sequence length in requests
//
// Environment variables use the flag name in upper case with dashes
// replaced by underscores, e.g. CACHEM_MAX_CONNS or CACHEM_SNAPSHOT.
//
// Example:
//
//	cfg, err := config.LoadServerConfig(flag.NewFlagSet("cachem-server", flag.ExitOnError), os.Args[1:])
//	if err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
//
// Returns:
//   - ServerConfig with values loaded from the various sources
//   - Error if an environment variable or flag cannot be parsed
func LoadServerConfig(fs *flag.FlagSet, args []string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	env := envLoader{}
	env.str("HOST", &cfg.Host)
	env.integer("PORT", &cfg.Port)
	env.integer("MAX_CONNS", &cfg.MaxConns)
	env.integer("READ_TIMEOUT", &cfg.ReadTimeout)
	env.integer("WRITE_TIMEOUT", &cfg.WriteTimeout)
	env.str("LOG_LEVEL", &cfg.LogLevel)
	env.str("LOG_FORMAT", &cfg.LogFormat)
	env.str("DATA_DIR", &cfg.DataDir)
	env.str("SNAPSHOT", &cfg.SnapshotBackend)
	env.str("REDIS_ADDR", &cfg.RedisAddr)
	env.str("REDIS_PREFIX", &cfg.RedisPrefix)
	env.integer("MAX_SEQ_LEN", &cfg.MaxSequenceLen)
	if env.err != nil {
		return nil, env.err
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "Server port")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Server host")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "Maximum concurrent connections")
	fs.IntVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Read timeout in seconds (0 disables)")
	fs.IntVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Write timeout in seconds (0 disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for file snapshots")
	fs.StringVar(&cfg.SnapshotBackend, "snapshot", cfg.SnapshotBackend, "Snapshot backend (file, redis, none)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the redis snapshot backend")
	fs.StringVar(&cfg.RedisPrefix, "redis-prefix", cfg.RedisPrefix, "Redis key prefix for snapshots")
	fs.IntVar(&cfg.MaxSequenceLen, "max-seq-len", cfg.MaxSequenceLen, "Maximum sequence length accepted in requests")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadClientConfig creates a ClientConfig from environment variables and
// defaults.
//
// Environment variables:
//
//	CACHEM_ADDRESS: Server address
//	CACHEM_MAX_CONNS: Maximum pooled connections
//	CACHEM_CONN_TIMEOUT: Connection timeout in seconds
//	CACHEM_READ_TIMEOUT: Read timeout in seconds
//	CACHEM_WRITE_TIMEOUT: Write timeout in seconds
//	CACHEM_RETRY_ATTEMPTS: Number of retry attempts
//	CACHEM_ACQUIRE_TIMEOUT: Pool acquire timeout in seconds
//
// Returns:
//   - ClientConfig with values loaded from environment variables and defaults
//   - Error if an environment variable cannot be parsed
func LoadClientConfig() (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	env := envLoader{}
	env.str("ADDRESS", &cfg.Address)
	env.integer("MAX_CONNS", &cfg.MaxConns)
	env.integer("CONN_TIMEOUT", &cfg.ConnTimeout)
	env.integer("READ_TIMEOUT", &cfg.ReadTimeout)
	env.integer("WRITE_TIMEOUT", &cfg.WriteTimeout)
	env.integer("RETRY_ATTEMPTS", &cfg.RetryAttempts)
	env.integer("ACQUIRE_TIMEOUT", &cfg.AcquireTimeout)
	if env.err != nil {
		return nil, env.err
	}
	return cfg, nil
}

// DefaultClientConfig returns a ClientConfig holding only default values.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Address:        fmt.Sprintf("localhost:%d", DefaultServerPort),
		MaxConns:       DefaultMaxConnsPerClient,
		ConnTimeout:    DefaultConnTimeoutSecs,
		ReadTimeout:    DefaultReadTimeoutSecs,
		WriteTimeout:   DefaultWriteTimeoutSecs,
		RetryAttempts:  DefaultRetryAttempts,
		AcquireTimeout: DefaultAcquireTimeoutSec,
	}
}

// envLoader reads CACHEM_* variables and keeps the first parse error.
type envLoader struct {
	err error
}

func (l *envLoader) str(name string, dst *string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func (l *envLoader) integer(name string, dst *int) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		if l.err == nil {
			l.err = fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		return
	}
	*dst = n
}

// Address returns the full address string for the server to bind to.
//
// Example:
//
//	cfg := &ServerConfig{Host: "0.0.0.0", Port: 9999}
//	addr := cfg.Address() // Returns "0.0.0.0:9999"
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks if the ServerConfig contains valid values.
//
// Validation rules:
//   - Port must be between 1 and 65535
//   - MaxConns and MaxSequenceLen must be positive
//   - ReadTimeout and WriteTimeout must not be negative
//   - LogLevel must be one of: debug, info, warn, error
//   - LogFormat must be one of: text, json
//   - SnapshotBackend must be one of: file, redis, none; file needs DataDir
//     and redis needs RedisAddr
//
// Returns:
//   - nil if configuration is valid
//   - Error describing the first validation failure found
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.MaxConns < 1 {
		return fmt.Errorf("max connections must be positive: %d", c.MaxConns)
	}

	if c.ReadTimeout < 0 {
		return fmt.Errorf("read timeout must not be negative: %d", c.ReadTimeout)
	}

	if c.WriteTimeout < 0 {
		return fmt.Errorf("write timeout must not be negative: %d", c.WriteTimeout)
	}

	if c.MaxSequenceLen < 1 {
		return fmt.Errorf("max sequence length must be positive: %d", c.MaxSequenceLen)
	}

	validLogLevels := map[string]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.LogFormat != logging.FormatText && c.LogFormat != logging.FormatJSON {
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}

	switch c.SnapshotBackend {
	case BackendFile:
		if c.DataDir == "" {
			return fmt.Errorf("file snapshots need a data directory")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis snapshots need a redis address")
		}
	case BackendNone:
	default:
		return fmt.Errorf("invalid snapshot backend: %s", c.SnapshotBackend)
	}

	return nil
}

// Validate checks if the ClientConfig contains valid values.
//
// Validation rules:
//   - Address must be non-empty and contain a port
//   - MaxConns must be positive
//   - All timeout values must be positive
//   - RetryAttempts must be non-negative
//
// Returns:
//   - nil if configuration is valid
//   - Error describing the first validation failure found
func (c *ClientConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("server address must be specified")
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("invalid server address format: %s", c.Address)
	}

	if c.MaxConns < 1 {
		return fmt.Errorf("max connections must be positive: %d", c.MaxConns)
	}

	if c.ConnTimeout < 1 {
		return fmt.Errorf("connection timeout must be positive: %d", c.ConnTimeout)
	}

	if c.ReadTimeout < 1 {
		return fmt.Errorf("read timeout must be positive: %d", c.ReadTimeout)
	}

	if c.WriteTimeout < 1 {
		return fmt.Errorf("write timeout must be positive: %d", c.WriteTimeout)
	}

	if c.AcquireTimeout < 1 {
		return fmt.Errorf("acquire timeout must be positive: %d", c.AcquireTimeout)
	}

	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must be non-negative: %d", c.RetryAttempts)
	}

	return nil
}
