package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Port     string
	DBDSN    string
	DBDriver string
	LogFile  string
	LogLevel string
	SeedDemo bool

	DefaultWarehouseID  int64
	CartReservationTTL  time.Duration
	OrderReservationTTL time.Duration
	SweepInterval       time.Duration

	RetryAttempts        int
	RetryInitialInterval time.Duration

	OutboxPollInterval time.Duration
	KafkaBrokers       []string
	KafkaOrderTopic    string
	KafkaPaymentTopic  string
	KafkaGroupID       string

	ShippingFlatRate decimal.Decimal
	TaxRate          decimal.Decimal

	AdminTokenHash string
	// PaymentWebhookTokenHash is the bcrypt hash of the provider's shared
	// secret. Empty disables the webhook route.
	PaymentWebhookTokenHash string
}

func Load() Config {
	dsn := env("DB_DSN", "storefront.db") // sqlite file in project root
	cfg := Config{
		Port:     env("PORT", "8080"),
		DBDSN:    dsn,
		DBDriver: env("DB_DRIVER", DriverFor(dsn)),
		LogFile:  os.Getenv("LOG_FILE"),
		LogLevel: env("LOG_LEVEL", "info"),
		SeedDemo: envBool("SEED_DEMO", true),

		DefaultWarehouseID:  envInt64("DEFAULT_WAREHOUSE_ID", 1),
		CartReservationTTL:  envDuration("CART_RESERVATION_TTL", 30*time.Minute),
		OrderReservationTTL: envDuration("ORDER_RESERVATION_TTL", 30*time.Minute),
		SweepInterval:       envDuration("SWEEP_INTERVAL", time.Minute),

		RetryAttempts:        int(envInt64("RETRY_ATTEMPTS", 3)),
		RetryInitialInterval: envDuration("RETRY_INITIAL_INTERVAL", 50*time.Millisecond),

		OutboxPollInterval: envDuration("OUTBOX_POLL_INTERVAL", time.Second),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaOrderTopic:    env("KAFKA_ORDER_TOPIC", "storefront.orders"),
		KafkaPaymentTopic:  env("KAFKA_PAYMENT_TOPIC", "storefront.payments"),
		KafkaGroupID:       env("KAFKA_GROUP_ID", "storefront-inventory"),

		ShippingFlatRate: envDecimal("SHIPPING_FLAT_RATE", decimal.Zero),
		TaxRate:          envDecimal("TAX_RATE", decimal.Zero),

		AdminTokenHash:          os.Getenv("ADMIN_TOKEN_HASH"),
		PaymentWebhookTokenHash: os.Getenv("PAYMENT_WEBHOOK_TOKEN_HASH"),
	}
	log.Printf("[config] PORT=%s DB_DRIVER=%s DB_DSN=%s LOG_LEVEL=%s WAREHOUSE=%d SWEEP=%s KAFKA=%v ADMIN=%t WEBHOOK=%t",
		cfg.Port, cfg.DBDriver, redact(cfg.DBDSN), cfg.LogLevel, cfg.DefaultWarehouseID, cfg.SweepInterval,
		cfg.KafkaBrokers, cfg.AdminTokenHash != "", cfg.PaymentWebhookTokenHash != "")
	return cfg
}

// DriverFor guesses the database/sql driver from a DSN.
func DriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, def)
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func envDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		log.Printf("[config] invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// redact hides a password embedded in a postgres URL.
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":***" + dsn[at:]
	}
	return dsn
}
