package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host            string
		Port            int
		ShutdownTimeout time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	StorageConfig struct {
		Backend         string // "oss" | "filesystem"
		OSSEndpoint     string
		OSSAccessKeyID  string
		OSSAccessSecret string
		OSSBucket       string
		LocalDir        string
		BaseURL         string
		UploadTimeout   time.Duration
	}

	MonitorConfig struct {
		MetricsURL        string
		Cron              string
		RetryCron         string
		WarningRate       float64
		CertificationRate float64
		DisqualifiedRate  float64
		MaxRetryAttempts  int
		RetryBackoff      time.Duration
		Workers           int
	}

	Config struct {
		Env      string // DEV (local; default), TEST, QA, PROD
		Debug    bool
		TestMode bool
		AppName  string
		Build    string

		Server   ServerConfig
		Database DatabaseConfig
		Storage  StorageConfig
		Monitor  MonitorConfig

		ScheduledDispatchCron string

		DefaultFromName string
		DefaultFromMail string
		SendgridApiKey  string
		RollbarToken    string
		FrontendBaseURL string
	}
)

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.DefaultFromName, Address: c.DefaultFromMail}
}

func (c *Config) IsProd() bool { return c.Env == "PROD" }

func (dc DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", dc.Host, dc.Port)
}

func (sc ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", sc.Host, sc.Port)
}

// NewConfig loads the app configuration from defaults, an optional
// config/.env.<env> file and ENV-prefixed environment variables.
func NewConfig() *Config {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)

	// defaults
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "ShuleLink")
	conf.SetDefault("build", "dev")
	conf.SetDefault("defaultFromName", "ShuleLink")
	conf.SetDefault("defaultFromMail", "noreply@localhost")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")

	conf.SetDefault("server.host", "0.0.0.0")
	conf.SetDefault("server.port", 8000)
	conf.SetDefault("server.shutdownTimeout", 20*time.Second)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", 5432)
	conf.SetDefault("database.name", "shulelink")
	conf.SetDefault("database.user", "shulelink")
	conf.SetDefault("database.disableTLS", true)

	conf.SetDefault("storage.backend", "filesystem")
	conf.SetDefault("storage.localDir", filepath.Join(Getwd(), "media"))
	conf.SetDefault("storage.baseURL", "http://localhost:8000/media")
	conf.SetDefault("storage.uploadTimeout", 30*time.Second)

	conf.SetDefault("monitor.metricsURL", "http://localhost:9100")
	conf.SetDefault("monitor.cron", "0 7 * * *")
	conf.SetDefault("monitor.retryCron", "*/10 * * * *")
	conf.SetDefault("monitor.warningRate", 80.0)
	conf.SetDefault("monitor.certificationRate", 70.0)
	conf.SetDefault("monitor.disqualifiedRate", 60.0)
	conf.SetDefault("monitor.maxRetryAttempts", 5)
	conf.SetDefault("monitor.retryBackoff", 10*time.Minute)
	conf.SetDefault("monitor.workers", 8)

	conf.SetDefault("scheduledDispatchCron", "* * * * *")

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetDefault("env", env)
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	var c Config
	if err := conf.Unmarshal(&c); err != nil {
		log.Fatalf("config.viper.Unmarshal: %v", err)
	}
	return &c
}
