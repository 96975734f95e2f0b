package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds all runtime settings for the service.
type Config struct {
	MongoURI string
	MongoDB  string

	LocalDBPath string
	Port        string
	Facility    string

	JWTSecret string
	JWTExpiry time.Duration

	SyncInterval         time.Duration
	SyncMaxBackoff       time.Duration
	SyncMaxRetries       int
	SyncParallelism      int
	ConnectivityInterval time.Duration
	SubscribePoll        time.Duration

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then the process environment.
// Files listed in envFiles are tried in order; missing files are ignored.
func Load(envFiles ...string) *Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err == nil {
			log.WithField("file", f).Debug("Loaded environment file")
		}
	}

	return &Config{
		MongoURI:             os.Getenv("MONGO_URI"),
		MongoDB:              getString("MONGO_DB", "care_assets"),
		LocalDBPath:          getString("LOCAL_DB_PATH", "care-assets.db"),
		Port:                 getString("PORT", "8080"),
		Facility:             os.Getenv("FACILITY"),
		JWTSecret:            getString("JWT_SECRET", "default-secret-key-change-in-production"),
		JWTExpiry:            getDuration("JWT_EXPIRY", 12*time.Hour),
		SyncInterval:         getDuration("SYNC_INTERVAL", 30*time.Second),
		SyncMaxBackoff:       getDuration("SYNC_MAX_BACKOFF", 10*time.Minute),
		SyncMaxRetries:       getInt("SYNC_MAX_RETRIES", 5),
		SyncParallelism:      getInt("SYNC_PARALLELISM", 4),
		ConnectivityInterval: getDuration("CONNECTIVITY_INTERVAL", 15*time.Second),
		SubscribePoll:        getDuration("SUBSCRIBE_POLL_INTERVAL", 20*time.Second),
		MQTTBroker:           os.Getenv("MQTT_BROKER"),
		MQTTClientID:         getString("MQTT_CLIENT_ID", "care-assets"),
		MQTTTopicPrefix:      getString("MQTT_TOPIC_PREFIX", "care-assets"),
		LogLevel:             getString("LOG_LEVEL", "info"),
		LogFormat:            getString("LOG_FORMAT", "text"),
	}
}

// ConfigureLogging applies the level and format settings to the standard
// logrus logger.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("level", c.LogLevel).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		log.WithFields(log.Fields{"key": key, "value": v}).Warn("Invalid integer setting, using default")
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.WithFields(log.Fields{"key": key, "value": v}).Warn("Invalid duration setting, using default")
		return fallback
	}
	return d
}
