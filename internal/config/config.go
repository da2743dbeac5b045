package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage and ledger driver names.
const (
	DriverMemory = "memory"
	DriverMySQL  = "mysql"
	DriverMongo  = "mongo"
	DriverRedis  = "redis"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Booking rules live separately in BookingFile and
// are loaded by LoadBooking.
type Config struct {
	Env          string // application environment (e.g. "dev", "prod")
	Port         string // HTTP port to listen on
	StoreDriver  string // reservation store: mysql, mongo or memory
	LedgerDriver string // capacity ledger: mysql, redis, mongo or memory

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	MongoURI string // mongo connection string
	MongoDB  string // mongo database name

	LedgerTimeout    time.Duration // bound on one ledger call
	StoreTimeout     time.Duration // bound on one reservation write
	MongoMaxAttempts int           // optimistic retries of the mongo ledger

	JWTSecret         string // secret used to sign admin JWTs
	AccessTTLMin      int    // access token time-to-live in minutes
	AdminEmail        string // admin login; empty disables admin login
	AdminPasswordHash string // bcrypt hash of the admin password

	RabbitURL         string        // broker URL; empty disables event publishing
	AuditLogPath      string        // file the worker appends events to
	ReconcileInterval time.Duration // worker reconciliation period
	ReconcileSettle   time.Duration // wait between the two observations of a repair
	ReconcileDays     int           // days ahead the worker reconciles

	BookingFile string // optional YAML file with booking rules
}

// Load reads configuration values from environment variables.  Required
// variables depend on the selected drivers; every missing or invalid value
// is reported in the returned error.
func Load() (Config, error) {
	var errs []error
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			errs = append(errs, fmt.Errorf("missing required env var: %s", key))
		}
		return v
	}

	cfg := Config{
		Env:               must("APP_ENV"),
		Port:              must("APP_PORT"),
		StoreDriver:       strings.ToLower(envStr("STORE_DRIVER", DriverMySQL)),
		LedgerDriver:      strings.ToLower(envStr("LEDGER_DRIVER", DriverRedis)),
		DBPass:            os.Getenv("DB_PASS"),
		LedgerTimeout:     envDur("LEDGER_TIMEOUT", 2*time.Second),
		StoreTimeout:      envDur("STORE_TIMEOUT", 5*time.Second),
		MongoMaxAttempts:  envInt("MONGO_LEDGER_MAX_ATTEMPTS", 5),
		JWTSecret:         must("JWT_SECRET"),
		AccessTTLMin:      envInt("ACCESS_TOKEN_TTL_MIN", 15),
		AdminEmail:        os.Getenv("ADMIN_EMAIL"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		RabbitURL:         os.Getenv("RABBITMQ_URL"),
		AuditLogPath:      envStr("AUDIT_LOG_PATH", "logs/reservations.log"),
		ReconcileInterval: envDur("RECONCILE_INTERVAL", 15*time.Minute),
		ReconcileDays:     envInt("RECONCILE_DAYS", 14),
		BookingFile:       envStr("BOOKING_CONFIG_FILE", "booking.yaml"),
	}

	switch cfg.StoreDriver {
	case DriverMySQL, DriverMongo, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_DRIVER: %q", cfg.StoreDriver))
	}
	switch cfg.LedgerDriver {
	case DriverMySQL, DriverRedis, DriverMongo, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid LEDGER_DRIVER: %q", cfg.LedgerDriver))
	}
	if cfg.uses(DriverMySQL) {
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	}
	if cfg.uses(DriverMongo) {
		cfg.MongoURI = must("MONGO_URI")
		cfg.MongoDB = envStr("MONGO_DB", "reservations")
	}
	// A booking can stay half applied for one store write plus one ledger
	// call; the settle window has to outlast that.
	minSettle := cfg.StoreTimeout + 2*cfg.LedgerTimeout
	cfg.ReconcileSettle = envDur("RECONCILE_SETTLE", minSettle+time.Second)
	if cfg.ReconcileSettle <= minSettle {
		errs = append(errs, fmt.Errorf("RECONCILE_SETTLE must exceed STORE_TIMEOUT + 2*LEDGER_TIMEOUT (%s)", minSettle))
	}
	if cfg.AccessTTLMin <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL_MIN must be positive"))
	}
	return cfg, errors.Join(errs...)
}

func (c Config) uses(driver string) bool {
	return c.StoreDriver == driver || c.LedgerDriver == driver
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return c.Env == "prod" || c.Env == "production"
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
