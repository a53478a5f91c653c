package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Suivi is the root of config.yaml. It aggregates the listener, storage, authentication,
// directory, session backend, mail and middleware sections.
type Suivi struct {
	Server     Server       `yaml:"server"`     // HTTP listener settings.
	TLS        TLS          `yaml:"tls"`        // TLS settings for the listener.
	Database   Database     `yaml:"database"`   // SQLite database location.
	Auth       Auth         `yaml:"auth"`       // Authentication and session policy.
	Directory  Directory    `yaml:"directory"`  // External directory authority.
	Sessions   Sessions     `yaml:"sessions"`   // Session store backend.
	Mail       Mail         `yaml:"mail"`       // SMTP settings for administrator alerts.
	API        API          `yaml:"api"`        // API access restrictions.
	Health     Health       `yaml:"health"`     // Dependency health checks.
	Middleware []Middleware `yaml:"middleware"` // Global middleware, applied in order.
}

type Server struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"` // Time given to in-flight requests on shutdown.
}

// TLS holds configuration settings related to TLS (HTTPS) for the server.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`   // Indicates whether TLS is enabled.
	CertFile string `yaml:"cert_file"` // Path to the TLS certificate file.
	KeyFile  string `yaml:"key_file"`  // Path to the TLS private key file.
}

type Database struct {
	Path string `yaml:"path"`
}

// Auth holds the authentication policy.
type Auth struct {
	JWTSecret               string        `yaml:"jwt_secret"`
	SessionTTL              time.Duration `yaml:"session_ttl"`               // Lifetime of a session from its last renewal.
	RenewalWindow           time.Duration `yaml:"renewal_window"`            // How long after its last renewal a session may still be renewed.
	MaxLoginAttempts        int           `yaml:"max_login_attempts"`        // Consecutive failures before the account locks.
	PasswordHistoryLimit    int           `yaml:"password_history_limit"`    // Previous passwords that cannot be reused.
	BcryptCost              int           `yaml:"bcrypt_cost"`               // Cost of new password hashes.
	SessionCleanupInterval  time.Duration `yaml:"session_cleanup_interval"`  // How often dead sessions are purged.
	CookieName              string        `yaml:"cookie_name"`               // Name of the session cookie.
	CookieSecure            bool          `yaml:"cookie_secure"`             // Sets the Secure flag on the session cookie.
	ExposeAttemptsRemaining bool          `yaml:"expose_attempts_remaining"` // Includes attempts_remaining in failed login responses.
	LoginRateLimit          RateLimit     `yaml:"login_rate_limit"`          // Per client IP limit on the login endpoint.
}

// Directory configures the external directory authority used by directory-mode identities.
type Directory struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

const (
	SessionStoreDatabase = "database"
	SessionStoreRedis    = "redis"
)

type Sessions struct {
	Store    string `yaml:"store"`     // "database" or "redis".
	RedisURL string `yaml:"redis_url"` // redis:// URL or host:port.
}

// Mail holds SMTP settings for the account-locked alert.
type Mail struct {
	Enabled         bool     `yaml:"enabled"`
	SMTPHost        string   `yaml:"smtp_host"`
	SMTPPort        int      `yaml:"smtp_port"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	From            string   `yaml:"from"`
	AdminRecipients []string `yaml:"admin_recipients"`
}

type API struct {
	AllowedIPs []string `yaml:"allowed_ips"` // IPs or CIDRs allowed to reach the API. Empty allows everyone.
	Debug      bool     `yaml:"debug"`
}

// Health configures the background dependency checks reported by /healthz.
type Health struct {
	Interval           time.Duration `yaml:"interval"`
	Timeout            time.Duration `yaml:"timeout"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold"` // Consecutive failures before a dependency is reported down.
}

// RateLimit defines the configuration for rate limiting middleware.
// It specifies the number of requests allowed per second and the burst size.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // Number of allowed requests per second.
	Burst             int     `yaml:"burst"`               // Maximum number of burst requests allowed.
}

// Middleware defines the configuration for various middleware components.
// Each entry sets exactly one field.
type Middleware struct {
	RateLimit   *RateLimit `yaml:"rate_limit"`  // Rate limiting configuration.
	Security    *Security  `yaml:"security"`    // Security headers configuration.
	CORS        *CORS      `yaml:"cors"`        // CORS (Cross-Origin Resource Sharing) configuration.
	Compression bool       `yaml:"compression"` // Enables gzip compression if true.
}

// Security holds configuration settings for security-related HTTP headers.
type Security struct {
	HSTS                  bool   `yaml:"hsts"`                    // Enables HTTP Strict Transport Security (HSTS).
	HSTSMaxAge            int    `yaml:"hsts_max_age"`            // Duration (in seconds) for the HSTS policy.
	HSTSIncludeSubDomains bool   `yaml:"hsts_include_subdomains"` // Applies HSTS policy to all subdomains if true.
	HSTSPreload           bool   `yaml:"hsts_preload"`            // Includes the site in browsers' HSTS preload lists if true.
	FrameOptions          string `yaml:"frame_options"`           // Value for the X-Frame-Options header.
	ContentTypeOptions    bool   `yaml:"content_type_options"`    // Enables the X-Content-Type-Options header.
	ContentSecurityPolicy string `yaml:"content_security_policy"` // Value for the Content-Security-Policy header.
}

// CORS defines the configuration for Cross-Origin Resource Sharing.
type CORS struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`   // List of origins allowed to access the resources.
	AllowedMethods   []string `yaml:"allowed_methods"`   // HTTP methods allowed for CORS requests.
	AllowedHeaders   []string `yaml:"allowed_headers"`   // HTTP headers allowed in CORS requests.
	ExposedHeaders   []string `yaml:"exposed_headers"`   // HTTP headers exposed to the browser.
	AllowCredentials bool     `yaml:"allow_credentials"` // Indicates whether credentials are allowed in CORS requests.
	MaxAge           int      `yaml:"max_age"`           // Seconds a preflight result may be cached.
}

// Defaults used when a value is missing from config.yaml.
var Defaults = Suivi{
	Server: Server{
		Host:          "0.0.0.0",
		Port:          8080,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		ShutdownGrace: 30 * time.Second,
	},
	Database: Database{Path: "suivi.db"},
	Auth: Auth{
		SessionTTL:             65 * time.Minute,
		RenewalWindow:          100 * time.Minute,
		MaxLoginAttempts:       5,
		PasswordHistoryLimit:   5,
		SessionCleanupInterval: 15 * time.Minute,
		CookieName:             "suivi_session",
		LoginRateLimit:         RateLimit{RequestsPerSecond: 1, Burst: 10},
	},
	Directory: Directory{Timeout: 5 * time.Second},
	Sessions:  Sessions{Store: SessionStoreDatabase},
	Mail:      Mail{SMTPPort: 587},
	Health:    Health{Interval: 30 * time.Second, Timeout: 2 * time.Second, UnhealthyThreshold: 2},
}

// Load reads and strictly decodes a config file. Unknown keys are errors.
func Load(path string) (*Suivi, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Suivi
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &config, nil
}

// LoadAndValidate loads path, applies defaults and validates the result.
func LoadAndValidate(path string, logger *zap.Logger) (*Suivi, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(logger); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate fills in defaults and rejects inconsistent settings.
func (cfg *Suivi) Validate(logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	var errs []error
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", cfg.Server.Port))
	}
	if cfg.TLS.Enabled && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file are required when tls is enabled"))
	}

	if cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	} else if len(cfg.Auth.JWTSecret) < 32 {
		logger.Warn("auth.jwt_secret is shorter than 32 bytes")
	}
	if cfg.Auth.RenewalWindow < cfg.Auth.SessionTTL {
		errs = append(errs, fmt.Errorf("auth.renewal_window (%s) must not be shorter than auth.session_ttl (%s)",
			cfg.Auth.RenewalWindow, cfg.Auth.SessionTTL))
	}
	if cfg.Auth.BcryptCost != 0 && (cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31) {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost %d is out of range", cfg.Auth.BcryptCost))
	}
	if !cfg.Auth.CookieSecure && cfg.TLS.Enabled {
		logger.Warn("auth.cookie_secure is off while TLS is enabled")
	}

	if cfg.Directory.Enabled && cfg.Directory.URL == "" {
		errs = append(errs, errors.New("directory.url is required when the directory is enabled"))
	}

	switch cfg.Sessions.Store {
	case SessionStoreDatabase:
	case SessionStoreRedis:
		if cfg.Sessions.RedisURL == "" {
			errs = append(errs, errors.New("sessions.redis_url is required for the redis session store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sessions.store %q", cfg.Sessions.Store))
	}

	if cfg.Mail.Enabled {
		if cfg.Mail.SMTPHost == "" || cfg.Mail.From == "" {
			errs = append(errs, errors.New("mail.smtp_host and mail.from are required when mail is enabled"))
		}
		if len(cfg.Mail.AdminRecipients) == 0 {
			logger.Warn("Mail is enabled but mail.admin_recipients is empty; lock alerts will not be sent")
		}
	}

	for i, mw := range cfg.Middleware {
		n := 0
		if mw.RateLimit != nil {
			n++
		}
		if mw.Security != nil {
			n++
		}
		if mw.CORS != nil {
			n++
		}
		if mw.Compression {
			n++
		}
		if n != 1 {
			errs = append(errs, fmt.Errorf("middleware[%d] must configure exactly one middleware", i))
		}
	}

	return errors.Join(errs...)
}

func (cfg *Suivi) applyDefaults() {
	d := Defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = d.Server.IdleTimeout
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = d.Server.ShutdownGrace
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = d.Database.Path
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = d.Auth.SessionTTL
	}
	if cfg.Auth.RenewalWindow == 0 {
		cfg.Auth.RenewalWindow = d.Auth.RenewalWindow
	}
	if cfg.Auth.MaxLoginAttempts <= 0 {
		cfg.Auth.MaxLoginAttempts = d.Auth.MaxLoginAttempts
	}
	if cfg.Auth.PasswordHistoryLimit <= 0 {
		cfg.Auth.PasswordHistoryLimit = d.Auth.PasswordHistoryLimit
	}
	if cfg.Auth.SessionCleanupInterval == 0 {
		cfg.Auth.SessionCleanupInterval = d.Auth.SessionCleanupInterval
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = d.Auth.CookieName
	}
	if cfg.Auth.LoginRateLimit.RequestsPerSecond == 0 {
		cfg.Auth.LoginRateLimit = d.Auth.LoginRateLimit
	}
	if cfg.Directory.Timeout == 0 {
		cfg.Directory.Timeout = d.Directory.Timeout
	}
	cfg.Sessions.Store = strings.ToLower(strings.TrimSpace(cfg.Sessions.Store))
	if cfg.Sessions.Store == "" {
		cfg.Sessions.Store = d.Sessions.Store
	}
	if cfg.Mail.SMTPPort == 0 {
		cfg.Mail.SMTPPort = d.Mail.SMTPPort
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = d.Health.Interval
	}
	if cfg.Health.Timeout == 0 {
		cfg.Health.Timeout = d.Health.Timeout
	}
	if cfg.Health.UnhealthyThreshold <= 0 {
		cfg.Health.UnhealthyThreshold = d.Health.UnhealthyThreshold
	}
}

// Address is the host:port the server listens on.
func (cfg *Suivi) Address() string {
	return net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
}
