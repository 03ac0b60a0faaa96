package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "SIMCTL_"
	configEnvVar = "SIMCTL_CONFIG"
)

// Loader загружает конфигурацию из разных источников
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
	explicit    string
}

// NewLoader создаёт новый загрузчик конфигурации
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"simctl.yaml",
			"configs/simctl.yaml",
			"/etc/simctl/simctl.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption - опция для конфигурации загрузчика
type LoaderOption func(*Loader)

// WithConfigPaths устанавливает пути поиска конфигурации
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithConfigFile задаёт явный файл (флаг --config). В отличие от путей поиска,
// отсутствие такого файла является ошибкой.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) {
		l.explicit = path
	}
}

// WithEnvPrefix устанавливает префикс переменных окружения
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load загружает конфигурацию с приоритетом:
// 1. Defaults (самый низкий)
// 2. Config file (yaml)
// 3. Environment variables (самый высокий)
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if l.explicit != "" {
		if err := l.k.Load(file.Provider(l.explicit), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", l.explicit, err)
		}
	} else if err := l.loadConfigFile(); err != nil {
		// Файл не обязателен; stdout занят выводом команд
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults загружает значения по умолчанию
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// App
		"app.name":        "simctl",
		"app.version":     "1.0.0",
		"app.environment": "development",

		// Log
		"log.level":       "info",
		"log.format":      "text",
		"log.output":      "stderr",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		// Metrics
		"metrics.enabled":   false,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "reservoir",
		"metrics.subsystem": "",

		// Tracing
		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "simctl",
		"tracing.sample_rate":  0.1,

		// Backends
		"backends.work_dir":      filepath.Join(os.TempDir(), "simctl"),
		"backends.keep_work_dir": true,

		"backends.opm.enabled":       true,
		"backends.opm.mode":          "direct",
		"backends.opm.binary":        "flow",
		"backends.opm.docker_binary": "docker",
		"backends.opm.image":         "openporousmedia/opmreleases:latest",
		"backends.opm.timeout":       600 * time.Second,
		"backends.opm.max_cells":     100_000,
		"backends.opm.extra_args":    []string{},

		"backends.mrst.enabled":          true,
		"backends.mrst.interpreter":      "octave",
		"backends.mrst.interpreter_args": []string{"--no-gui", "--quiet", "--eval"},
		"backends.mrst.mrst_path":        "",
		"backends.mrst.timeout":          900 * time.Second,
		"backends.mrst.max_cells":        1_000_000,

		// Jobs
		"jobs.max_concurrent": 4,
		"jobs.retention":      0,
		"jobs.poll_interval":  time.Second,

		// Compare
		"compare.tolerance_days": 1.0,

		// Cache
		"cache.enabled":     false,
		"cache.driver":      "memory",
		"cache.host":        "localhost",
		"cache.port":        6379,
		"cache.password":    "",
		"cache.db":          0,
		"cache.default_ttl": 24 * time.Hour,
		"cache.max_entries": 256,

		// Database
		"database.enabled":            false,
		"database.host":               "localhost",
		"database.port":               5432,
		"database.database":           "reservoir",
		"database.username":           "postgres",
		"database.password":           "postgres",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     10,
		"database.max_idle_conns":     2,
		"database.conn_max_lifetime":  time.Hour,
		"database.conn_max_idle_time": 30 * time.Minute,
		"database.auto_migrate":       true,

		// Events
		"events.enabled":         false,
		"events.url":             "nats://localhost:4222",
		"events.subject_prefix":  "reservoir.jobs",
		"events.connect_timeout": 5 * time.Second,

		// Audit
		"audit.enabled":   false,
		"audit.backend":   "stdout",
		"audit.file_path": "logs/audit.log",

		// Report
		"report.default_format": "markdown",
		"report.author":         "simctl",
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile загружает конфигурацию из файла
func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv загружает конфигурацию из переменных окружения
// Использует трансформацию ключей для полей с подчёркиванием
func (l *Loader) loadEnv() error {
	return l.k.Load(env.ProviderWithValue(l.envPrefix, ".", func(envKey string, value string) (string, interface{}) {
		key := strings.ToLower(strings.TrimPrefix(envKey, l.envPrefix))

		// SIMCTL_CONFIG указывает на файл и не является ключом конфига
		if key == "config" {
			return "", nil
		}

		if mappedKey, ok := envKeyMappings[key]; ok {
			key = mappedKey
		} else {
			key = strings.ReplaceAll(key, "_", ".")
		}

		if isSliceField(key) {
			return key, splitAndTrim(value)
		}

		return key, value
	}), nil)
}

// envKeyMappings - маппинг переменных окружения на ключи конфига
// Необходим для полей, содержащих подчёркивания в именах
var envKeyMappings = map[string]string{
	// Log
	"log_level":       "log.level",
	"log_format":      "log.format",
	"log_output":      "log.output",
	"log_file_path":   "log.file_path",
	"log_max_size":    "log.max_size",
	"log_max_backups": "log.max_backups",
	"log_max_age":     "log.max_age",
	"log_compress":    "log.compress",

	// Tracing
	"tracing_service_name": "tracing.service_name",
	"tracing_sample_rate":  "tracing.sample_rate",

	// Backends
	"backends_work_dir":              "backends.work_dir",
	"backends_keep_work_dir":         "backends.keep_work_dir",
	"backends_opm_docker_binary":     "backends.opm.docker_binary",
	"backends_opm_max_cells":         "backends.opm.max_cells",
	"backends_opm_extra_args":        "backends.opm.extra_args",
	"backends_mrst_interpreter_args": "backends.mrst.interpreter_args",
	"backends_mrst_mrst_path":        "backends.mrst.mrst_path",
	"backends_mrst_max_cells":        "backends.mrst.max_cells",

	// Jobs
	"jobs_max_concurrent": "jobs.max_concurrent",
	"jobs_poll_interval":  "jobs.poll_interval",

	// Compare
	"compare_tolerance_days": "compare.tolerance_days",

	// Cache
	"cache_default_ttl": "cache.default_ttl",
	"cache_max_entries": "cache.max_entries",

	// Database
	"database_ssl_mode":           "database.ssl_mode",
	"database_max_open_conns":     "database.max_open_conns",
	"database_max_idle_conns":     "database.max_idle_conns",
	"database_conn_max_lifetime":  "database.conn_max_lifetime",
	"database_conn_max_idle_time": "database.conn_max_idle_time",
	"database_auto_migrate":       "database.auto_migrate",

	// Events
	"events_subject_prefix":  "events.subject_prefix",
	"events_connect_timeout": "events.connect_timeout",

	// Audit
	"audit_file_path": "audit.file_path",

	// Report
	"report_default_format": "report.default_format",
}

// sliceFields - поля, которые должны парситься как слайсы
var sliceFields = map[string]bool{
	"backends.opm.extra_args":        true,
	"backends.mrst.interpreter_args": true,
}

func isSliceField(key string) bool {
	return sliceFields[key]
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// MustLoad загружает конфигурацию или паникует
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load - удобная функция для загрузки с дефолтными настройками
func Load(opts ...LoaderOption) (*Config, error) {
	return NewLoader(opts...).Load()
}
