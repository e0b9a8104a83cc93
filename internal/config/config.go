package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port string

	// Document library
	PDFRoot        string
	AllowedLines   []string
	MaxUploadBytes int64

	// Plugins
	PluginsDir       string
	PluginSharedDirs []string
	PluginWatch      bool

	// Database. An empty DatabaseURL disables the load history and the SQL
	// work order source.
	DatabaseURL    string
	MigrationsPath string

	// Work orders
	WorkOrdersSource string
	WorkOrdersAPIURL string
	WorkOrdersAPIKey string

	// Kafka / events
	KafkaBrokers       string
	KafkaConsumerGroup string

	// HTTP
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int

	// Uploads and plugin actions
	WriteRateLimitRPS   float64
	WriteRateLimitBurst int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		PDFRoot:        getEnv("PDF_ROOT", "pdfs"),
		AllowedLines:   getList("ALLOWED_LINES", "F1,F2,F3"),
		MaxUploadBytes: getInt64("MAX_UPLOAD_BYTES", 50<<20),

		PluginsDir:       getEnv("PLUGINS_DIR", "plugins"),
		PluginSharedDirs: getList("PLUGIN_SHARED_DIRS", ""),
		PluginWatch:      getBool("PLUGIN_WATCH", false),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),

		WorkOrdersSource: getEnv("WORKORDERS_SOURCE", "sql"),
		WorkOrdersAPIURL: getEnv("WORKORDERS_API_URL", "http://localhost/"),
		WorkOrdersAPIKey: getEnv("WORKORDERS_API_KEY", ""),

		KafkaBrokers:       getEnv("KAFKA_BROKERS", ""),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "lineside-events"),

		AllowedOrigins: getList("ALLOWED_ORIGINS", "http://localhost:3000"),
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: int(getInt64("RATE_LIMIT_BURST", 40)),

		WriteRateLimitRPS:   getFloat("WRITE_RATE_LIMIT_RPS", 1),
		WriteRateLimitBurst: int(getInt64("WRITE_RATE_LIMIT_BURST", 5)),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getList splits a comma separated variable, dropping empty items.
func getList(key, fallback string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, fallback), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getInt64(key string, fallback int64) int64 {
	if n, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil && n > 0 {
		return n
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 {
		return f
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}
