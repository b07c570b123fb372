package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort int
	LogLevel string

	RecordsURL     string
	ActionURL      string
	AdminToken     string
	RequestTimeout time.Duration

	PerPage         int
	DefaultDuration string
	WindowDays      int
	TimeZone        string
	Location        *time.Location

	MySQLDSN string

	KafkaBrokers []string
	KafkaTopic   string
}

type configFile struct {
	Service struct {
		HTTPPort int    `yaml:"http_port"`
		LogLevel string `yaml:"log_level"`
		TimeZone string `yaml:"time_zone"`
	} `yaml:"service"`
	Upstream struct {
		RecordsURL     string `yaml:"records_url"`
		ActionURL      string `yaml:"action_url"`
		AdminToken     string `yaml:"admin_token"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"upstream"`
	Console struct {
		PerPage         int    `yaml:"per_page"`
		DefaultDuration string `yaml:"default_duration"`
		WindowDays      int    `yaml:"eligibility_window_days"`
	} `yaml:"console"`
	Dependencies struct {
		MySQLDSN     string   `yaml:"mysql_dsn"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
}

// LoadConfig layers defaults, the YAML file at path, the given .env files and
// the process environment, later layers winning. Missing files are skipped.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	cfg := Config{
		HTTPPort:        8080,
		LogLevel:        "info",
		RecordsURL:      "http://localhost:5000/payments-admin/api/payments",
		ActionURL:       "http://localhost:5000/payments-admin/api/refund",
		RequestTimeout:  15 * time.Second,
		PerPage:         25,
		DefaultDuration: "daily",
		WindowDays:      3,
		TimeZone:        "Local",
		KafkaTopic:      "payrecon.events",
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			var f configFile
			if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
				return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
			}
			applyFile(&cfg, f)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.RecordsURL = envOrDefault("RECORDS_URL", cfg.RecordsURL)
	cfg.ActionURL = envOrDefault("ACTION_URL", cfg.ActionURL)
	cfg.AdminToken = envOrDefault("PAYMENTS_ADMIN_TOKEN", cfg.AdminToken)
	cfg.RequestTimeout = time.Duration(envInt("REQUEST_TIMEOUT_SECONDS", int(cfg.RequestTimeout.Seconds()))) * time.Second
	cfg.PerPage = envInt("PER_PAGE", cfg.PerPage)
	cfg.DefaultDuration = envOrDefault("DEFAULT_DURATION", cfg.DefaultDuration)
	cfg.WindowDays = envInt("ELIGIBILITY_WINDOW_DAYS", cfg.WindowDays)
	cfg.TimeZone = envOrDefault("TIME_ZONE", cfg.TimeZone)
	cfg.MySQLDSN = envOrDefault("MYSQL_DSN", cfg.MySQLDSN)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)

	if cfg.RecordsURL == "" || cfg.ActionURL == "" {
		return Config{}, fmt.Errorf("missing RECORDS_URL/ACTION_URL")
	}
	if cfg.PerPage <= 0 || cfg.PerPage > 200 {
		return Config{}, fmt.Errorf("per page must be between 1 and 200, got %d", cfg.PerPage)
	}
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return Config{}, fmt.Errorf("time zone %q: %w", cfg.TimeZone, err)
	}
	cfg.Location = loc
	if cfg.MySQLDSN != "" {
		dsn, err := NormalizeDSN(cfg.MySQLDSN)
		if err != nil {
			return Config{}, err
		}
		cfg.MySQLDSN = dsn
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.LogLevel != "" {
		cfg.LogLevel = f.Service.LogLevel
	}
	if f.Service.TimeZone != "" {
		cfg.TimeZone = f.Service.TimeZone
	}
	if f.Upstream.RecordsURL != "" {
		cfg.RecordsURL = f.Upstream.RecordsURL
	}
	if f.Upstream.ActionURL != "" {
		cfg.ActionURL = f.Upstream.ActionURL
	}
	if f.Upstream.AdminToken != "" {
		cfg.AdminToken = f.Upstream.AdminToken
	}
	if f.Upstream.TimeoutSeconds > 0 {
		cfg.RequestTimeout = time.Duration(f.Upstream.TimeoutSeconds) * time.Second
	}
	if f.Console.PerPage > 0 {
		cfg.PerPage = f.Console.PerPage
	}
	if f.Console.DefaultDuration != "" {
		cfg.DefaultDuration = f.Console.DefaultDuration
	}
	if f.Console.WindowDays > 0 {
		cfg.WindowDays = f.Console.WindowDays
	}
	cfg.MySQLDSN = f.Dependencies.MySQLDSN
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
	}
	if f.Dependencies.KafkaTopic != "" {
		cfg.KafkaTopic = f.Dependencies.KafkaTopic
	}
}

// loadEnvFiles reads .env files into the environment without overriding
// variables that are already set.
func loadEnvFiles(files []string) error {
	for _, name := range files {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// NormalizeDSN makes sure DATETIME columns scan into time.Time in UTC.
func NormalizeDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
