package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultConnectionString = "Host=localhost;Port=5432;Database=retail_ledger_db;Username=postgres;Password=postgres;Timeout=30;CommandTimeout=30"
const defaultLockWaitTimeout = 3 * time.Second
const defaultAccountNumberAttempts = 5
const defaultMetricsAddr = ":9190"

type Config struct {
	DatabaseDSN           string
	MigrationsDir         string
	LockWaitTimeout       time.Duration
	AccountNumberAttempts int
	MetricsAddr           string
}

func Load() (Config, error) {
	conn := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if conn == "" {
		conn = defaultConnectionString
	}

	lockWait := defaultLockWaitTimeout
	if raw := strings.TrimSpace(os.Getenv("LOCK_WAIT_TIMEOUT")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			lockWait = parsed
		}
	}

	attempts := defaultAccountNumberAttempts
	if raw := strings.TrimSpace(os.Getenv("ACCOUNT_NUMBER_ATTEMPTS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			attempts = parsed
		}
	}

	metricsAddr := strings.TrimSpace(os.Getenv("METRICS_ADDR"))
	if metricsAddr == "" {
		metricsAddr = defaultMetricsAddr
	}

	return Config{
		DatabaseDSN:           normalizeConnectionString(conn),
		MigrationsDir:         filepath.Join("migrations"),
		LockWaitTimeout:       lockWait,
		AccountNumberAttempts: attempts,
		MetricsAddr:           metricsAddr,
	}, nil
}

func normalizeConnectionString(raw string) string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	hasSSLMode := false

	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}

		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}

		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])

		switch key {
		case "host":
			out = append(out, "host="+val)
		case "port":
			out = append(out, "port="+val)
		case "database":
			out = append(out, "dbname="+val)
		case "username":
			out = append(out, "user="+val)
		case "password":
			out = append(out, "password="+val)
		case "timeout", "connect timeout":
			out = append(out, "connect_timeout="+val)
		case "commandtimeout", "command timeout":
			out = append(out, "statement_timeout="+val+"s")
		case "sslmode":
			hasSSLMode = true
			out = append(out, "sslmode="+val)
		default:
			out = append(out, key+"="+val)
		}
	}

	if len(out) == 0 {
		return raw
	}

	if !hasSSLMode {
		out = append(out, "sslmode=disable")
	}

	return strings.Join(out, " ")
}
