// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config - главная структура конфигурации
type Config struct {
	App      AppConfig      `koanf:"app"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Tracing  TracingConfig  `koanf:"tracing"`
	Backends BackendsConfig `koanf:"backends"`
	Jobs     JobsConfig     `koanf:"jobs"`
	Compare  CompareConfig  `koanf:"compare"`
	Cache    CacheConfig    `koanf:"cache"`
	Database DatabaseConfig `koanf:"database"`
	Events   EventsConfig   `koanf:"events"`
	Audit    AuditConfig    `koanf:"audit"`
	Report   ReportConfig   `koanf:"report"`
}

// AppConfig - общие настройки приложения
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
}

// LogConfig - настройки логирования
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`   // путь к файлу логов
	MaxSize    int    `koanf:"max_size"`    // MB
	MaxBackups int    `koanf:"max_backups"` // количество бэкапов
	MaxAge     int    `koanf:"max_age"`     // дней
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig - настройки Prometheus метрик
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig - настройки OpenTelemetry
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// BackendsConfig - внешние симуляторы. Пути к бинарникам и интерпретаторам
// принадлежат окружению, система их только потребляет.
type BackendsConfig struct {
	WorkDir     string     `koanf:"work_dir"`
	KeepWorkDir bool       `koanf:"keep_work_dir"`
	OPM         OPMConfig  `koanf:"opm"`
	MRST        MRSTConfig `koanf:"mrst"`
}

// OPMConfig - настройки OPM Flow
type OPMConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Mode         string        `koanf:"mode"` // direct, docker
	Binary       string        `koanf:"binary"`
	DockerBinary string        `koanf:"docker_binary"`
	Image        string        `koanf:"image"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxCells     int           `koanf:"max_cells"`
	ExtraArgs    []string      `koanf:"extra_args"`
}

// MRSTConfig - настройки MRST (Octave/MATLAB)
type MRSTConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Interpreter     string        `koanf:"interpreter"`
	InterpreterArgs []string      `koanf:"interpreter_args"`
	MRSTPath        string        `koanf:"mrst_path"`
	Timeout         time.Duration `koanf:"timeout"`
	MaxCells        int           `koanf:"max_cells"`
}

// JobsConfig - оркестратор задач
type JobsConfig struct {
	MaxConcurrent int           `koanf:"max_concurrent"`
	Retention     time.Duration `koanf:"retention"` // 0 - хранить до завершения процесса
	PollInterval  time.Duration `koanf:"poll_interval"`
}

// CompareConfig - параметры сравнения результатов
type CompareConfig struct {
	ToleranceDays float64 `koanf:"tolerance_days"`
}

// CacheConfig - настройки кэширования результатов
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // redis, memory
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"` // для in-memory
}

// Address возвращает адрес кэша
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig - архив завершённых задач в PostgreSQL
type DatabaseConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN возвращает строку подключения
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
	)
}

// EventsConfig - публикация событий жизненного цикла задач в NATS
type EventsConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	SubjectPrefix  string        `koanf:"subject_prefix"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// AuditConfig конфигурация аудита
type AuditConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Backend  string `koanf:"backend"` // stdout, file
	FilePath string `koanf:"file_path"`
}

// ReportConfig - экспорт отчётов сравнения
type ReportConfig struct {
	DefaultFormat string `koanf:"default_format"`
	Author        string `koanf:"author"`
}

var (
	validLogLevels     = []string{"debug", "info", "warn", "error"}
	validOPMModes      = []string{"direct", "docker"}
	validCacheDrivers  = []string{"memory", "redis"}
	validAuditBackends = []string{"stdout", "file"}
	validReportFormats = []string{"json", "csv", "markdown", "html", "xlsx", "pdf"}
)

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if !contains(validLogLevels, c.Log.Level) {
		errs = append(errs, fmt.Sprintf("log.level must be one of: %s, got %s", strings.Join(validLogLevels, ", "), c.Log.Level))
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Sprintf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be within [0, 1], got %g", c.Tracing.SampleRate))
	}

	if c.Backends.OPM.Enabled {
		if !contains(validOPMModes, c.Backends.OPM.Mode) {
			errs = append(errs, fmt.Sprintf("backends.opm.mode must be one of: %s, got %s", strings.Join(validOPMModes, ", "), c.Backends.OPM.Mode))
		}
		if c.Backends.OPM.Timeout <= 0 {
			errs = append(errs, "backends.opm.timeout must be positive")
		}
		if c.Backends.OPM.MaxCells <= 0 {
			errs = append(errs, "backends.opm.max_cells must be positive")
		}
	}

	if c.Backends.MRST.Enabled {
		if c.Backends.MRST.Interpreter == "" {
			errs = append(errs, "backends.mrst.interpreter is required")
		}
		if c.Backends.MRST.Timeout <= 0 {
			errs = append(errs, "backends.mrst.timeout must be positive")
		}
		if c.Backends.MRST.MaxCells <= 0 {
			errs = append(errs, "backends.mrst.max_cells must be positive")
		}
	}

	if c.Jobs.MaxConcurrent < 1 {
		errs = append(errs, fmt.Sprintf("jobs.max_concurrent must be at least 1, got %d", c.Jobs.MaxConcurrent))
	}
	if c.Jobs.Retention < 0 {
		errs = append(errs, "jobs.retention must be non-negative")
	}

	if c.Compare.ToleranceDays < 0 {
		errs = append(errs, "compare.tolerance_days must be non-negative")
	}

	if c.Cache.Enabled && !contains(validCacheDrivers, c.Cache.Driver) {
		errs = append(errs, fmt.Sprintf("cache.driver must be one of: %s, got %s", strings.Join(validCacheDrivers, ", "), c.Cache.Driver))
	}

	if c.Database.Enabled && c.Database.Host == "" {
		errs = append(errs, "database.host is required when database is enabled")
	}

	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, "events.url is required when events are enabled")
	}

	if c.Audit.Enabled && !contains(validAuditBackends, c.Audit.Backend) {
		errs = append(errs, fmt.Sprintf("audit.backend must be one of: %s, got %s", strings.Join(validAuditBackends, ", "), c.Audit.Backend))
	}

	if !contains(validReportFormats, c.Report.DefaultFormat) {
		errs = append(errs, fmt.Sprintf("report.default_format must be one of: %s, got %s", strings.Join(validReportFormats, ", "), c.Report.DefaultFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction проверяет, запущено ли приложение в production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
