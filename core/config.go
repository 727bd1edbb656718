package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug        bool
		TestMode     bool
		Env          string // DEV (local; default), TEST, QA, PROD
		Build        string
		AppName      string
		SecretKey    string
		RollbarToken string
		WorkDir      string

		Server   ServerConfig
		Database DatabaseConfig
		Billing  BillingConfig
		Roster   RosterConfig
		Cache    CacheConfig
		Email    EmailConfig
	}

	ServerConfig struct {
		Address         string
		Host            string
		DebugHost       string
		RequestTimeout  time.Duration
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

	BillingConfig struct {
		Plan        string
		Timezone    string
		AdminEmails []string
	}

	RosterConfig struct {
		Source           string // static, postgres, firestore
		DSN              string
		FirestoreProject string
		CredentialsFile  string
		Collection       string
		Students         []string // static roster (DEV|TEST)
	}

	CacheConfig struct {
		Driver        string // none, memory (single API process, reviews only through it), redis
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		TTL           time.Duration
		Size          int
	}

	EmailConfig struct {
		SendgridAPIKey   string
		DefaultFromEmail string
	}
)

// From returns the sender of outgoing emails, named after the app.
func (c EmailConfig) From(appName string) mail.Address {
	return mail.Address{Name: appName, Address: c.DefaultFromEmail}
}

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Location returns the school's time zone; falls back to UTC when the configured zone is unknown.
func (c BillingConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func newViper() *viper.Viper {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Masomo Billing")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.requestTimeout", 10*time.Second)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "masomo_billing")
	v.SetDefault("database.user", "masomo")
	v.SetDefault("database.password", "masomo")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("billing.plan", "masomo-term")
	v.SetDefault("billing.timezone", "UTC")
	v.SetDefault("billing.adminEmails", []string{})

	v.SetDefault("roster.source", "static")
	v.SetDefault("roster.dsn", "")
	v.SetDefault("roster.firestoreProject", "")
	v.SetDefault("roster.credentialsFile", "")
	v.SetDefault("roster.collection", "students")
	v.SetDefault("roster.students", []string{})

	v.SetDefault("cache.driver", "none")
	v.SetDefault("cache.redisAddr", "localhost:6379")
	v.SetDefault("cache.redisPassword", "")
	v.SetDefault("cache.redisDB", 0)
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("cache.size", 4096)

	v.SetDefault("email.sendgridAPIKey", "")
	v.SetDefault("email.defaultFromEmail", "noreply@localhost")

	// nested keys are read from the env as PREFIX_SERVER_ADDRESS, PREFIX_DATABASE_HOST etc.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// NewConfig loads the app configuration from defaults, an optional `config/.env.<env>` file and the environment.
func NewConfig() *Config {
	v := newViper()

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "QA", "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := configFromViper(v)
	conf.Env = env
	conf.WorkDir = wd
	return conf
}

func configFromViper(v *viper.Viper) *Config {
	return &Config{
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		Build:        v.GetString("build"),
		AppName:      v.GetString("appName"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
		Server: ServerConfig{
			Address:         v.GetString("server.address"),
			Host:            v.GetString("server.host"),
			DebugHost:       v.GetString("server.debugHost"),
			RequestTimeout:  v.GetDuration("server.requestTimeout"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Billing: BillingConfig{
			Plan:        v.GetString("billing.plan"),
			Timezone:    v.GetString("billing.timezone"),
			AdminEmails: v.GetStringSlice("billing.adminEmails"),
		},
		Roster: RosterConfig{
			Source:           v.GetString("roster.source"),
			DSN:              v.GetString("roster.dsn"),
			FirestoreProject: v.GetString("roster.firestoreProject"),
			CredentialsFile:  v.GetString("roster.credentialsFile"),
			Collection:       v.GetString("roster.collection"),
			Students:         v.GetStringSlice("roster.students"),
		},
		Cache: CacheConfig{
			Driver:        v.GetString("cache.driver"),
			RedisAddr:     v.GetString("cache.redisAddr"),
			RedisPassword: v.GetString("cache.redisPassword"),
			RedisDB:       v.GetInt("cache.redisDB"),
			TTL:           v.GetDuration("cache.ttl"),
			Size:          v.GetInt("cache.size"),
		},
		Email: EmailConfig{
			SendgridAPIKey:   v.GetString("email.sendgridAPIKey"),
			DefaultFromEmail: v.GetString("email.defaultFromEmail"),
		},
	}
}

// NewTestConfig returns the default config in test mode without touching the environment.
func NewTestConfig() *Config {
	v := newViper()
	v.SetDefault("testMode", true)
	conf := configFromViper(v)
	conf.Env = "TEST"
	return conf
}

func (c *Config) String() string {
	return fmt.Sprintf("%s (%s, build %s)", c.AppName, c.Env, c.Build)
}
