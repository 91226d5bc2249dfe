package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "GUESTBOOK"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "guestbook.db"
	defaultLogLevel      = "info"
	defaultLogFormat     = "json"
	defaultKakaoBaseURL  = "https://kapi.kakao.com"
	defaultKakaoJWKSURL  = "https://kauth.kakao.com/.well-known/jwks.json"
	defaultSessionTTL    = 12 * time.Hour
	defaultPostCooldown  = 30 * time.Second
	defaultEmailEndpoint = "https://api.emailjs.com/api/v1.0/email/send"
	defaultNotifyTitle   = "세란 선준 웨딩 알림"
	defaultSMTPPort      = 587
)

// Database drivers.
const (
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
)

// Notification providers.
const (
	NotifyDisabled = "disabled"
	NotifyEmailJS  = "emailjs"
	NotifySMTP     = "smtp"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string
	LogFormat   string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	FirestoreProjectID       string
	FirestoreCredentialsFile string

	KakaoBaseURL  string
	KakaoAppKey   string
	KakaoJWKSURL  string
	SigningSecret string
	SessionTTL    time.Duration

	PostCooldown       time.Duration
	PostRequireSession bool

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	MetricsEnabled bool

	Notify NotifyConfig
}

// NotifyConfig selects and configures the message notification channel.
type NotifyConfig struct {
	Provider string
	Title    string
	SiteURL  string

	EmailJSEndpoint   string
	EmailJSServiceID  string
	EmailJSTemplateID string
	EmailJSPublicKey  string
	EmailJSPrivateKey string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTo       string
	SMTPUseTLS   bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("database.driver", DriverSQLite)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("kakao.api_base_url", defaultKakaoBaseURL)
	configViper.SetDefault("kakao.jwks_url", defaultKakaoJWKSURL)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("post.cooldown", defaultPostCooldown)
	configViper.SetDefault("post.require_session", true)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("metrics.enabled", true)
	configViper.SetDefault("notify.provider", NotifyDisabled)
	configViper.SetDefault("notify.title", defaultNotifyTitle)
	configViper.SetDefault("emailjs.endpoint", defaultEmailEndpoint)
	configViper.SetDefault("smtp.port", defaultSMTPPort)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:              configViper.GetString("http.address"),
		LogLevel:                 configViper.GetString("log.level"),
		LogFormat:                configViper.GetString("log.format"),
		DatabaseDriver:           strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:             configViper.GetString("database.path"),
		DatabaseDSN:              configViper.GetString("database.dsn"),
		FirestoreProjectID:       configViper.GetString("firestore.project_id"),
		FirestoreCredentialsFile: configViper.GetString("firestore.credentials_file"),
		KakaoBaseURL:             configViper.GetString("kakao.api_base_url"),
		KakaoAppKey:              configViper.GetString("kakao.app_key"),
		KakaoJWKSURL:             configViper.GetString("kakao.jwks_url"),
		SigningSecret:            configViper.GetString("auth.signing_secret"),
		SessionTTL:               configViper.GetDuration("session.ttl"),
		PostCooldown:             configViper.GetDuration("post.cooldown"),
		PostRequireSession:       configViper.GetBool("post.require_session"),
		RedisAddress:             configViper.GetString("redis.address"),
		RedisPassword:            configViper.GetString("redis.password"),
		RedisDB:                  configViper.GetInt("redis.db"),
		MetricsEnabled:           configViper.GetBool("metrics.enabled"),
		Notify: NotifyConfig{
			Provider:          strings.ToLower(strings.TrimSpace(configViper.GetString("notify.provider"))),
			Title:             configViper.GetString("notify.title"),
			SiteURL:           configViper.GetString("notify.site_url"),
			EmailJSEndpoint:   configViper.GetString("emailjs.endpoint"),
			EmailJSServiceID:  configViper.GetString("emailjs.service_id"),
			EmailJSTemplateID: configViper.GetString("emailjs.template_id"),
			EmailJSPublicKey:  configViper.GetString("emailjs.public_key"),
			EmailJSPrivateKey: configViper.GetString("emailjs.private_key"),
			SMTPHost:          configViper.GetString("smtp.host"),
			SMTPPort:          configViper.GetInt("smtp.port"),
			SMTPUsername:      configViper.GetString("smtp.username"),
			SMTPPassword:      configViper.GetString("smtp.password"),
			SMTPFrom:          configViper.GetString("smtp.from"),
			SMTPFromName:      configViper.GetString("smtp.from_name"),
			SMTPTo:            configViper.GetString("smtp.to"),
			SMTPUseTLS:        configViper.GetBool("smtp.use_tls"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.KakaoBaseURL) == "" {
		return fmt.Errorf("kakao.api_base_url is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverFirestore:
		if strings.TrimSpace(c.FirestoreProjectID) == "" {
			return fmt.Errorf("firestore.project_id is required for the firestore driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.PostCooldown <= 0 {
		return fmt.Errorf("post.cooldown must be positive")
	}
	return c.Notify.validate()
}

func (n NotifyConfig) validate() error {
	switch n.Provider {
	case NotifyDisabled, "":
		return nil
	case NotifyEmailJS:
		if strings.TrimSpace(n.EmailJSServiceID) == "" ||
			strings.TrimSpace(n.EmailJSTemplateID) == "" ||
			strings.TrimSpace(n.EmailJSPublicKey) == "" {
			return fmt.Errorf("emailjs.service_id, emailjs.template_id and emailjs.public_key are required for the emailjs provider")
		}
	case NotifySMTP:
		if strings.TrimSpace(n.SMTPHost) == "" {
			return fmt.Errorf("smtp.host is required for the smtp provider")
		}
		if strings.TrimSpace(n.SMTPFrom) == "" || strings.TrimSpace(n.SMTPTo) == "" {
			return fmt.Errorf("smtp.from and smtp.to are required for the smtp provider")
		}
	default:
		return fmt.Errorf("notify.provider %q is not supported", n.Provider)
	}
	return nil
}
