// Package config provides centralized default values for Treeline
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration

	// Database
	DBDriver            string
	DBDataSource        string
	DBMaxOpenConns      int
	DBMaxIdleConns      int
	DBConnMaxLifetime   time.Duration
	StoreQueryTimeout   time.Duration
	SlowQueryThreshold  time.Duration
	AllowConcurrentSwap bool

	// Cache tiers
	L1Capacity int
	L2TTL      time.Duration
	L2Path     string
	L2InMemory bool

	// Resolver
	MaxDepthCeiling int

	// Refresh scheduling
	ChangeCountThreshold int
	TimeThreshold        time.Duration
	TickInterval         time.Duration
	RefreshTimeout       time.Duration

	// Locks
	LockTTL           time.Duration
	LockLeakThreshold time.Duration
	LeakSweepInterval time.Duration

	// Changelog
	AppendRetryLimit   int
	AppendRetryBackoff time.Duration

	// Alerting
	AlertFailureThreshold int
	AlertEmailTo          string
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)

	// Database
	DBDriver = getEnvString("DB_DRIVER", "sqlite3")
	DBDataSource = getEnvString("DB_DATA_SOURCE", "treeline.db")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetime = time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)) * time.Minute
	StoreQueryTimeout = getEnvDuration("STORE_QUERY_TIMEOUT", 3*time.Second)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 50*time.Millisecond)
	AllowConcurrentSwap = getEnvBool("ALLOW_CONCURRENT_SWAP", true)

	// Cache tiers
	L1Capacity = getEnvInt("L1_CAPACITY", 10000)
	L2TTL = getEnvDuration("L2_TTL", time.Hour)
	L2Path = getEnvString("L2_PATH", "l2-cache")
	L2InMemory = getEnvBool("L2_IN_MEMORY", false)

	// Resolver
	MaxDepthCeiling = getEnvInt("MAX_DEPTH_CEILING", 32)

	// Refresh scheduling
	ChangeCountThreshold = getEnvInt("CHANGE_COUNT_THRESHOLD", 100)
	TimeThreshold = getEnvDuration("TIME_THRESHOLD", 5*time.Minute)
	TickInterval = getEnvDuration("TICK_INTERVAL", 5*time.Second)
	RefreshTimeout = getEnvDuration("REFRESH_TIMEOUT", 30*time.Second)

	// Locks
	LockTTL = getEnvDuration("LOCK_TTL", 2*time.Minute)
	LockLeakThreshold = getEnvDuration("LOCK_LEAK_THRESHOLD", 10*time.Minute)
	LeakSweepInterval = getEnvDuration("LEAK_SWEEP_INTERVAL", time.Minute)

	// Changelog
	AppendRetryLimit = getEnvInt("APPEND_RETRY_LIMIT", 3)
	AppendRetryBackoff = getEnvDuration("APPEND_RETRY_BACKOFF", 25*time.Millisecond)

	// Alerting
	AlertFailureThreshold = getEnvInt("ALERT_FAILURE_THRESHOLD", 5)
	AlertEmailTo = getEnvString("ALERT_EMAIL_TO", "")
}
