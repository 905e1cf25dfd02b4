package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// ErrConfiguration indicates a missing or invalid required setting.
// Validation runs at startup, before any browser session is created.
var ErrConfiguration = errors.New("configuration error")

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Portal      PortalConfig   `toml:"portal"`
	Storage     StorageConfig  `toml:"storage"`
	Browser     BrowserConfig  `toml:"browser"`
	Export      ExportConfig   `toml:"export"`
	Selectors   SelectorConfig `toml:"selectors"`
	Logging     LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// PortalConfig holds the benefits portal credentials for one run.
// Values are immutable for the duration of a run and never persisted.
type PortalConfig struct {
	BaseURL    string `toml:"base_url" validate:"required"`
	Username   string `toml:"username" validate:"required"`
	Password   string `toml:"password" validate:"required"`
	TOTPSecret string `toml:"totp_secret"` // optional; empty disables the MFA step
	ReportPath string `toml:"report_path"` // optional hint, accepted for compatibility
}

type StorageConfig struct {
	ConnectionString string `toml:"connection_string" validate:"required"`
	Container        string `toml:"container" validate:"required"`
}

type BrowserConfig struct {
	Headless     bool          `toml:"headless"`
	UserAgent    string        `toml:"user_agent"`
	WindowWidth  int           `toml:"window_width"`
	WindowHeight int           `toml:"window_height"`
	StepTimeout  time.Duration `toml:"step_timeout"` // bound on each navigation/visibility wait
}

type ExportConfig struct {
	Prefix          string        `toml:"prefix"`           // fixed object-name prefix
	Schedule        string        `toml:"schedule"`         // cron expression for the built-in scheduler
	Enabled         bool          `toml:"enabled"`          // enable the built-in scheduler
	DownloadTimeout time.Duration `toml:"download_timeout"` // bound on the download-event wait
}

// SelectorConfig names the portal elements the orchestrator interacts
// with. The defaults match the EmployeeNavigator layout; overriding
// them covers minor portal drift, not arbitrary portals.
type SelectorConfig struct {
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	LoginSubmit string `toml:"login_submit"`
	TOTPCode    string `toml:"totp_code"`
	TOTPSubmit  string `toml:"totp_submit"`
	ReportLink  string `toml:"report_link"`
	StartDate   string `toml:"start_date"`
	EndDate     string `toml:"end_date"`
	ExportBtn   string `toml:"export_button"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Credentials have no defaults; they come from a config file or the
// environment and are validated before use.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Browser: BrowserConfig{
			Headless:     true,
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			WindowWidth:  1920,
			WindowHeight: 1080,
			StepTimeout:  30 * time.Second,
		},
		Export: ExportConfig{
			Prefix:          "EmployeeNavigator",
			Schedule:        "0 6 * * *", // daily at 06:00 when the built-in scheduler is enabled
			Enabled:         false,       // external triggers remain primary
			DownloadTimeout: 60 * time.Second,
		},
		Selectors: SelectorConfig{
			Username:    `input[name='username']`,
			Password:    `input[name='password']`,
			LoginSubmit: `button[type='submit']`,
			TOTPCode:    `input[name='code']`,
			TOTPSubmit:  `button[type='submit']`,
			ReportLink:  `a[href*='reports/benefits']`,
			StartDate:   `input[name='startDate']`,
			EndDate:     `input[name='endDate']`,
			ExportBtn:   `button[data-action='export']`,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> files ->
// environment. Later files override earlier files; environment
// variables override all files. CLI flags are applied separately and
// take the highest priority.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ENEXPORT_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("ENEXPORT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ENEXPORT_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Portal credentials
	if url := os.Getenv("ENEXPORT_PORTAL_BASE_URL"); url != "" {
		config.Portal.BaseURL = url
	}
	if user := os.Getenv("ENEXPORT_PORTAL_USERNAME"); user != "" {
		config.Portal.Username = user
	}
	if pass := os.Getenv("ENEXPORT_PORTAL_PASSWORD"); pass != "" {
		config.Portal.Password = pass
	}
	if secret := os.Getenv("ENEXPORT_PORTAL_TOTP_SECRET"); secret != "" {
		config.Portal.TOTPSecret = secret
	}
	if path := os.Getenv("ENEXPORT_REPORT_PATH"); path != "" {
		config.Portal.ReportPath = path
	}

	// Storage configuration
	if conn := os.Getenv("ENEXPORT_STORAGE_CONNECTION_STRING"); conn != "" {
		config.Storage.ConnectionString = conn
	}
	if container := os.Getenv("ENEXPORT_STORAGE_CONTAINER"); container != "" {
		config.Storage.Container = container
	}

	// Browser configuration
	if headless := os.Getenv("ENEXPORT_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if timeout := os.Getenv("ENEXPORT_BROWSER_STEP_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			config.Browser.StepTimeout = t
		}
	}

	// Export configuration
	if schedule := os.Getenv("ENEXPORT_EXPORT_SCHEDULE"); schedule != "" {
		config.Export.Schedule = schedule
	}
	if enabled := os.Getenv("ENEXPORT_EXPORT_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Export.Enabled = e
		}
	}
	if timeout := os.Getenv("ENEXPORT_EXPORT_DOWNLOAD_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			config.Export.DownloadTimeout = t
		}
	}

	// Logging configuration
	if level := os.Getenv("ENEXPORT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("ENEXPORT_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("ENEXPORT_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks that every required setting is present. A failure is
// fatal at startup: the run never reaches the browser with incomplete
// credentials.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			missing := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				missing = append(missing, fe.Namespace())
			}
			return fmt.Errorf("%w: missing required settings: %s", ErrConfiguration, strings.Join(missing, ", "))
		}
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

// MFAEnabled reports whether an MFA shared secret was configured.
func (c *Config) MFAEnabled() bool {
	return strings.TrimSpace(c.Portal.TOTPSecret) != ""
}
