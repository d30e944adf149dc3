package broker

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is read from the environment once at startup and passed explicitly
// into each constructor. No other code reads environment variables.
type Config struct {
	MailServer   string
	MailPort     int
	MailUsername string
	MailPassword string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	WatchDir   string
	ArchiveDir string
	LedgerPath string

	PollInterval  time.Duration
	RetryInterval time.Duration
	MaxBodyChars  int

	Debug bool
}

// LoadConfig builds a Config from the environment, optionally preloading an
// env file first. A missing default .env is not an error since production
// sets variables directly.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		MailServer:   getenv("MAIL_SERVER", ""),
		MailUsername: getenv("MAIL_USERNAME", ""),
		MailPassword: getenv("MAIL_PASSWORD", ""),

		DBHost:     getenv("MYSQL_DB_HOST", ""),
		DBUser:     getenv("MYSQL_DB_USER", ""),
		DBPassword: getenv("MYSQL_ROOT_PASSWORD", ""),
		DBName:     getenv("MYSQL_DATABASE", ""),

		WatchDir:   getenv("WATCH_DIR", ""),
		ArchiveDir: getenv("ARCHIVE_DIR", ""),
		LedgerPath: getenv("LEDGER_PATH", "processed_reports.txt"),
	}

	var err error
	if cfg.MailPort, err = getenvInt("MAIL_PORT", 995); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getenvInt("MYSQL_DB_PORT", 3306); err != nil {
		return nil, err
	}
	if cfg.MaxBodyChars, err = getenvInt("MAX_BODY_CHARS", 1000); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getenvDuration("POLL_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RetryInterval, err = getenvDuration("RETRY_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	cfg.Debug = getenv("DEBUG", "") == "true"

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("MYSQL_DB_HOST is required")
	}
	if c.DBUser == "" {
		return fmt.Errorf("MYSQL_DB_USER is required")
	}
	if c.DBName == "" {
		return fmt.Errorf("MYSQL_DATABASE is required")
	}
	if c.WatchDir == "" {
		return fmt.Errorf("WATCH_DIR is required")
	}
	if c.MailServer != "" && (c.MailUsername == "" || c.MailPassword == "") {
		return fmt.Errorf("MAIL_USERNAME and MAIL_PASSWORD are required when MAIL_SERVER is set")
	}
	if c.ArchiveDir != "" && sameDir(c.ArchiveDir, c.WatchDir) {
		// Archiving into the watched directory would feed every mailbox
		// report straight back through the file-drop channel.
		return fmt.Errorf("ARCHIVE_DIR must not be the watched directory")
	}
	return nil
}

// MailboxEnabled reports whether the mailbox delivery channel is configured.
func (c *Config) MailboxEnabled() bool { return c.MailServer != "" }

// DSN builds the MySQL connection string for the administrative database.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func sameDir(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

// getenv treats a variable that is set but empty as unset, so deployments
// can blank out an optional without tripping validation.
func getenv(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
