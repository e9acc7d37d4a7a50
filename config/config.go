package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/searchktools/embed-server/core"
	"github.com/searchktools/embed-server/core/logging"
)

// EnvPrefix marks the environment variables read by Load, e.g.
// EMBED_PORT or EMBED_AUTH_METHOD.
const EnvPrefix = "EMBED"

// Config holds all application configuration. The config tags name the
// keys used by JSON files, EMBED_* variables and flags alike.
type Config struct {
	Port           int           `config:"port"`
	Localhost      bool          `config:"localhost"`
	MaxPending     int           `config:"max.pending"`
	ServerName     string        `config:"server.name"`
	AuthMethod     string        `config:"auth.method"`
	AuthRealm      string        `config:"auth.realm"`
	AuthAccounts   string        `config:"auth.accounts"`
	ReadTimeout    time.Duration `config:"read.timeout"`
	WriteTimeout   time.Duration `config:"write.timeout"`
	IdleTimeout    time.Duration `config:"idle.timeout"`
	ProcessTimeout time.Duration `config:"process.timeout"`
	MaxBodyBytes   int64         `config:"max.body"`
	Root           string        `config:"root"`
	Env            string        `config:"env"`
	LogLevel       string        `config:"log.level"`
	LogFormat      string        `config:"log.format"`
	ShutdownGrace  time.Duration `config:"shutdown.grace"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:          core.DefaultPort,
		MaxPending:    core.DefaultMaxPendingConnections,
		ServerName:    core.DefaultServerName,
		AuthMethod:    "none",
		ReadTimeout:   core.DefaultReadTimeout,
		WriteTimeout:  core.DefaultWriteTimeout,
		IdleTimeout:   core.DefaultIdleTimeout,
		Env:           "development",
		LogLevel:      "info",
		ShutdownGrace: 10 * time.Second,
	}
}

// Bind registers one flag per field on fs, using the current values as defaults.
func (c *Config) Bind(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "HTTP server port (0 picks a free port)")
	fs.BoolVar(&c.Localhost, "localhost", c.Localhost, "Bind to 127.0.0.1 only")
	fs.IntVar(&c.MaxPending, "max-pending", c.MaxPending, "Maximum concurrent connections")
	fs.StringVar(&c.ServerName, "server-name", c.ServerName, "Value of the Server header")
	fs.StringVar(&c.AuthMethod, "auth-method", c.AuthMethod, "Authentication (none/basic/digest)")
	fs.StringVar(&c.AuthRealm, "auth-realm", c.AuthRealm, "Authentication realm")
	fs.StringVar(&c.AuthAccounts, "auth-accounts", c.AuthAccounts, "Accounts as user:password,user:password")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "Request read timeout")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "Response write timeout")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "Keep-alive idle timeout")
	fs.DurationVar(&c.ProcessTimeout, "process-timeout", c.ProcessTimeout, "Handler timeout (0 disables)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body", c.MaxBodyBytes, "Largest accepted request body (0 disables)")
	fs.StringVar(&c.Root, "root", c.Root, "Directory to serve")
	fs.StringVar(&c.Env, "env", c.Env, "Environment (development/production)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug/verbose/info/warning/error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (console/json/std); empty follows env")
	fs.DurationVar(&c.ShutdownGrace, "shutdown-grace", c.ShutdownGrace, "Time open connections get to finish on shutdown")
}

// Load builds the configuration from, in increasing precedence, defaults,
// the JSON file named by -config or EMBED_CONFIG, EMBED_* variables and
// command line flags.
func Load(args []string) (*Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet("embed-server", flag.ContinueOnError)
	file := fs.String("config", os.Getenv(EnvPrefix+"_CONFIG"), "JSON configuration file")
	cfg.Bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	m := NewManager()
	if *file != "" {
		if err := m.LoadFromJSON(*file); err != nil {
			return nil, err
		}
	}
	m.LoadFromEnv(EnvPrefix)
	fs.Visit(func(f *flag.Flag) {
		m.Set(strings.ReplaceAll(f.Name, "-", "."), f.Value.String())
	})
	if err := m.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// New loads configuration from the process arguments and environment.
func New() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	return cfg
}

// Options converts the configuration to server options.
func (c *Config) Options() (core.Options, error) {
	opts := core.DefaultOptions()
	opts.Port = c.Port
	opts.BindToLocalhost = c.Localhost
	opts.MaxPendingConnections = c.MaxPending
	opts.ServerName = c.ServerName
	opts.AuthRealm = c.AuthRealm
	opts.ReadTimeout = c.ReadTimeout
	opts.WriteTimeout = c.WriteTimeout
	opts.IdleTimeout = c.IdleTimeout
	opts.ProcessTimeout = c.ProcessTimeout
	opts.MaxBodyBytes = c.MaxBodyBytes

	method, err := core.ParseAuthMethod(c.AuthMethod)
	if err != nil {
		return opts, err
	}
	opts.AuthMethod = method
	if opts.AuthAccounts, err = ParseAccounts(c.AuthAccounts); err != nil {
		return opts, err
	}
	return opts, nil
}

// ParseAccounts reads "user:password" pairs separated by commas.
func ParseAccounts(s string) (map[string]string, error) {
	accounts := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, pass, ok := strings.Cut(pair, ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("invalid account %q, want user:password", pair)
		}
		accounts[user] = pass
	}
	return accounts, nil
}

// Logger builds the logger selected by LogFormat, or by Env when unset:
// console output in development and JSON in production.
func (c *Config) Logger() (logging.Logger, error) {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	format := c.LogFormat
	if format == "" {
		format = "console"
		if c.Env == "production" {
			format = "json"
		}
	}
	switch format {
	case "console":
		return logging.NewZerologLogger(true, level), nil
	case "json":
		return logging.NewZerologLogger(false, level), nil
	case "std":
		l := logging.NewStdLogger("")
		l.Min = level
		return l, nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}
