package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// FileEnv names the YAML file read by Load when no path is given.
const FileEnv = "PRISM_BOARD_CONFIG"

const (
	BackendSQL   = "sql"
	BackendTable = "table"
)

type Config struct {
	Addr    string `yaml:"addr"`
	Debug   bool   `yaml:"debug"`
	Backend string `yaml:"backend"`

	DatabaseDriver string `yaml:"databaseDriver"`
	DatabaseURL    string `yaml:"databaseUrl"`

	StorageConnectionString string `yaml:"storageConnectionString"`
	BoardsTable             string `yaml:"boardsTable"`
	ListsTable              string `yaml:"listsTable"`
	TasksTable              string `yaml:"tasksTable"`
	EventsQueue             string `yaml:"eventsQueue"`

	RedisConnectionString string        `yaml:"redisConnectionString"`
	CacheTTL              time.Duration `yaml:"cacheTTL"`
	DeduperTTL            time.Duration `yaml:"deduperTTL"`
	UpdatesChannel        string        `yaml:"updatesChannel"`

	PublishWorkers int `yaml:"publishWorkers"`
	PublishBuffer  int `yaml:"publishBuffer"`

	BaseURL      string        `yaml:"baseUrl"`
	TaskDebounce time.Duration `yaml:"taskDebounce"`
	ListDebounce time.Duration `yaml:"listDebounce"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:           ":8080",
		Backend:        BackendSQL,
		DatabaseDriver: "sqlite",
		DatabaseURL:    "file:prism-board.db",
		BoardsTable:    "boards",
		ListsTable:     "lists",
		TasksTable:     "tasks",
		CacheTTL:       30 * time.Second,
		DeduperTTL:     24 * time.Hour,
		UpdatesChannel: "board-updates",
		PublishWorkers: 4,
		PublishBuffer:  256,
		BaseURL:        "http://localhost:8080",
		TaskDebounce:   300 * time.Millisecond,
		ListDebounce:   300 * time.Millisecond,
		WriteTimeout:   10 * time.Second,
		PollInterval:   5 * time.Second,
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// $PRISM_BOARD_CONFIG) and environment variables, in increasing priority.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Addr = getenv("API_ADDR", c.Addr)
	c.Backend = getenv("STORAGE_BACKEND", c.Backend)
	c.DatabaseDriver = getenv("DATABASE_DRIVER", c.DatabaseDriver)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)
	c.StorageConnectionString = getenv("STORAGE_CONNECTION_STRING", c.StorageConnectionString)
	c.BoardsTable = getenv("BOARDS_TABLE", c.BoardsTable)
	c.ListsTable = getenv("LISTS_TABLE", c.ListsTable)
	c.TasksTable = getenv("TASKS_TABLE", c.TasksTable)
	c.EventsQueue = getenv("BOARD_EVENTS_QUEUE", c.EventsQueue)
	c.RedisConnectionString = getenv("REDIS_CONNECTION_STRING", c.RedisConnectionString)
	c.UpdatesChannel = getenv("BOARD_UPDATES_CHANNEL", c.UpdatesChannel)
	c.BaseURL = getenv("PRISM_BOARD_URL", c.BaseURL)

	var errs []error
	if v := os.Getenv("DEBUG"); v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DEBUG: %w", err))
		}
		c.Debug = dbg
	}
	errs = append(errs,
		getenvDuration("BOARD_CACHE_TTL", &c.CacheTTL),
		getenvDuration("DEDUPER_TTL", &c.DeduperTTL),
		getenvDuration("TASK_DEBOUNCE", &c.TaskDebounce),
		getenvDuration("LIST_DEBOUNCE", &c.ListDebounce),
		getenvDuration("WRITE_TIMEOUT", &c.WriteTimeout),
		getenvDuration("POLL_INTERVAL", &c.PollInterval),
		getenvInt("PUBLISH_WORKERS", &c.PublishWorkers),
		getenvInt("PUBLISH_BUFFER", &c.PublishBuffer),
	)
	return errors.Join(errs...)
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendSQL:
		if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "pgx" {
			errs = append(errs, fmt.Errorf("unsupported database driver %q", c.DatabaseDriver))
		}
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("missing DATABASE_URL"))
		}
	case BackendTable:
		if c.StorageConnectionString == "" || c.BoardsTable == "" || c.ListsTable == "" || c.TasksTable == "" {
			errs = append(errs, errors.New("missing storage config"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage backend %q", c.Backend))
	}
	if c.EventsQueue != "" && c.StorageConnectionString == "" {
		errs = append(errs, errors.New("BOARD_EVENTS_QUEUE requires STORAGE_CONNECTION_STRING"))
	}
	if c.DeduperTTL <= 0 {
		errs = append(errs, errors.New("invalid DEDUPER_TTL: must be greater than zero"))
	}
	if c.PublishWorkers <= 0 {
		errs = append(errs, errors.New("invalid PUBLISH_WORKERS: must be greater than zero"))
	}
	if c.PublishBuffer < 0 {
		errs = append(errs, errors.New("invalid PUBLISH_BUFFER: must not be negative"))
	}
	return errors.Join(errs...)
}

// RedisOptions parses a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("missing redis config")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return fmt.Errorf("invalid %s: must not be negative", key)
	}
	*dst = d
	return nil
}

func getenvInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}
