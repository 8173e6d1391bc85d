package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/itemsadmin/internal/logger"
	"github.com/nkiryanov/itemsadmin/internal/session"
)

const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

const (
	defaultAPIURL        = "http://localhost:8000/api/v1"
	defaultLoggingLevel  = logger.LevelWarn
	defaultEnvironment   = logger.EnvDevelopment
	defaultStore         = StoreFile
	defaultStateDirName  = ".itemsadmin"
	defaultRetryAttempts = 3
)

type Config struct {
	// Backend base url
	APIURL string

	// Logging level and environment (dev, prod)
	LogLevel    string
	Environment string

	// Rotated log file. Logs go to stderr if empty
	LogFile string

	// Where the session is persisted: file, postgres or memory
	Store string

	// Directory for the file store
	StateDir string

	// Database to connect to, for postgres store
	DatabaseDSN string

	// Hex encoded key to seal persisted session, plain JSON if empty
	SecretKey string

	// Key the session is persisted under
	StorageKey string

	// Zero means no timeout beyond what transport provides
	HTTPTimeout time.Duration

	// Attempts for GET requests failed on transport level
	RetryAttempts uint
}

func NewConfig(home func() (string, error)) *Config {
	stateDir := defaultStateDirName
	if dir, err := home(); err == nil {
		stateDir = filepath.Join(dir, defaultStateDirName)
	}

	return &Config{
		APIURL:        defaultAPIURL,
		LogLevel:      defaultLoggingLevel,
		Environment:   defaultEnvironment,
		Store:         defaultStore,
		StateDir:      stateDir,
		StorageKey:    session.DefaultKey,
		RetryAttempts: defaultRetryAttempts,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	var errs []error

	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setDuration := func(o *time.Duration) func(value string) {
		return func(value string) {
			if value == "" {
				return
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				errs = append(errs, err)
				return
			}
			*o = d
		}
	}
	setUint := func(o *uint) func(value string) {
		return func(value string) {
			if value == "" {
				return
			}
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				errs = append(errs, err)
				return
			}
			*o = uint(n)
		}
	}

	envMap := map[string]func(string){
		"API_URL":        setString(&c.APIURL),
		"LOG_LEVEL":      setString(&c.LogLevel),
		"LOG_FILE":       setString(&c.LogFile),
		"ENVIRONMENT":    setString(&c.Environment),
		"STORE":          setString(&c.Store),
		"STATE_DIR":      setString(&c.StateDir),
		"DATABASE_URI":   setString(&c.DatabaseDSN),
		"SECRET_KEY":     setString(&c.SecretKey),
		"STORAGE_KEY":    setString(&c.StorageKey),
		"HTTP_TIMEOUT":   setDuration(&c.HTTPTimeout),
		"RETRY_ATTEMPTS": setUint(&c.RetryAttempts),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}

	return errors.Join(errs...)
}

// FlagSet binds flags to config fields, current values are the defaults
func (c *Config) FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("itemsadmin", pflag.ContinueOnError)

	fs.StringVar(&c.APIURL, "api-url", c.APIURL, "Backend API base url")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Write logs to rotated file instead of stderr")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.Store, "store", c.Store, "Session store (file, postgres, memory)")
	fs.StringVar(&c.StateDir, "state-dir", c.StateDir, "Directory for the file store")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string for postgres store")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Hex key to seal persisted session")
	fs.StringVar(&c.StorageKey, "storage-key", c.StorageKey, "Key the session is persisted under")
	fs.DurationVar(&c.HTTPTimeout, "http-timeout", c.HTTPTimeout, "HTTP timeout, 0 means none")
	fs.UintVar(&c.RetryAttempts, "retry-attempts", c.RetryAttempts, "Attempts for GET requests on network failures")

	return fs
}

func (c *Config) ParseFlags(args []string) error {
	return c.FlagSet().Parse(args)
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreMemory:
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return errors.New("database connection string required for postgres store")
		}
	default:
		return errors.New("unknown store " + strconv.Quote(c.Store))
	}

	if c.APIURL == "" {
		return errors.New("api url must not be empty")
	}
	return nil
}
