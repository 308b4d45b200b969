package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration values.  Each field
// corresponds to an environment variable.  Payment reconciliation
// tunables (tolerance, pending age) are configuration rather than
// constants so operators can adjust them without a rebuild.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret string // secret used to verify identity-provider access tokens

	RiftBaseURL       string // base URL of the Rift payments API
	RiftAPIKey        string // service API key for the Rift payments API
	RiftWebhookSecret string // shared secret expected on webhook deliveries

	ChainName      string // supported chain family (only "base" initially)
	ChainRPCURL    string // JSON-RPC endpoint of the chain node
	ChainAsset     string // ERC-20 contract address of the settlement asset (USDC)
	ChainRecipient string // treasury address incoming transfers must pay

	AmountTolerance decimal.Decimal // absolute tolerance when comparing paid vs expected amounts
	PendingMaxAge   time.Duration   // age at which ambiguous PENDING invoices escalate or get reaped
}

// Load reads configuration values from environment variables and
// returns a Config.  Required variables are enforced by must() and
// missing values cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:  must("APP_ENV"),
		Port: must("APP_PORT"),

		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),

		JWTSecret: must("JWT_SECRET"),

		RiftBaseURL:       must("RIFT_BASE_URL"),
		RiftAPIKey:        must("RIFT_API_KEY"),
		RiftWebhookSecret: must("RIFT_WEBHOOK_SECRET"),

		ChainName:      envStr("CHAIN_NAME", "base"),
		ChainRPCURL:    must("CHAIN_RPC_URL"),
		ChainAsset:     must("CHAIN_ASSET_ADDRESS"),
		ChainRecipient: must("CHAIN_RECIPIENT_ADDRESS"),

		AmountTolerance: mustDecimal("AMOUNT_TOLERANCE", "0.01"),
		PendingMaxAge:   envDur("PENDING_MAX_AGE", time.Minute),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustDecimal reads an optional decimal variable, falling back to def.
// A malformed value is a fatal configuration error rather than a
// silent fallback, since the tolerance directly gates payment
// validation.
func mustDecimal(key, def string) decimal.Decimal {
	s := os.Getenv(key)
	if s == "" {
		s = def
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("invalid decimal for %s: %q", key, s)
	}
	return d
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
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
