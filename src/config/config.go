package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	KrakenAPIKey    string
	KrakenAPISecret string
	KrakenAPIURL    string

	DatabasePath string
	LogLevel     string

	TaxYear int

	// Gateway tuning
	APIRateLimit float64 // requests per second
	APIRateBurst int
	HTTPTimeout  time.Duration
	MaxRetries   int

	// Price resolver
	PriceCacheExpiry   time.Duration
	CoinGeckoDayWindow int

	// Earliest date the recovery protocol will reach back to.
	HistoryFloor time.Time
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	apiKey := getEnv("KRAKEN_API_KEY", "")
	apiSecret := getEnv("KRAKEN_API_SECRET", "")
	if apiKey == "" || apiSecret == "" {
		log.Println("WARNING: KRAKEN_API_KEY / KRAKEN_API_SECRET not set. Only cached data will be available.")
	}

	taxYearStr := getEnv("TAX_YEAR", strconv.Itoa(time.Now().Year()-1))
	taxYear, err := strconv.Atoi(taxYearStr)
	if err != nil || taxYear < 2009 {
		log.Printf("WARNING: Invalid TAX_YEAR '%s'. Using default %d. Error: %v", taxYearStr, time.Now().Year()-1, err)
		taxYear = time.Now().Year() - 1
	}

	rateLimitStr := getEnv("API_RATE_LIMIT", "3")
	rateLimit, err := strconv.ParseFloat(rateLimitStr, 64)
	if err != nil || rateLimit <= 0 {
		log.Printf("WARNING: Invalid API_RATE_LIMIT '%s'. Using default 3. Error: %v", rateLimitStr, err)
		rateLimit = 3
	}

	historyFloorStr := getEnv("HISTORY_FLOOR", "2011-01-01")
	historyFloor, err := time.Parse("2006-01-02", historyFloorStr)
	if err != nil {
		log.Printf("WARNING: Invalid HISTORY_FLOOR '%s'. Using default 2011-01-01. Error: %v", historyFloorStr, err)
		historyFloor = time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	Cfg = &AppConfig{
		KrakenAPIKey:    apiKey,
		KrakenAPISecret: apiSecret,
		KrakenAPIURL:    getEnv("KRAKEN_API_URL", "https://api.kraken.com"),

		DatabasePath: getEnv("DATABASE_PATH", "./kryptofolio.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		TaxYear: taxYear,

		APIRateLimit: rateLimit,
		APIRateBurst: getEnvAsInt("API_RATE_BURST", 3),
		HTTPTimeout:  getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),
		MaxRetries:   getEnvAsInt("API_MAX_RETRIES", 3),

		PriceCacheExpiry:   getEnvAsDuration("PRICE_CACHE_EXPIRY", 24*time.Hour),
		CoinGeckoDayWindow: getEnvAsInt("COINGECKO_DAY_WINDOW", 365),

		HistoryFloor: historyFloor,
	}

	log.Printf("Configuration loaded: TaxYear=%d, LogLevel=%s, DBPath=%s, RateLimit=%.1f/s",
		Cfg.TaxYear, Cfg.LogLevel, Cfg.DatabasePath, Cfg.APIRateLimit)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
