package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestConfigLoad_UsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // 避免读到仓库里的 .env
	for _, k := range []string{"ADDR", "IDLE_TIMEOUT", "SHUTDOWN_TIMEOUT", "READ_HEADER_TIMEOUT", "READ_TIMEOUT", "WRITE_TIMEOUT", "STORE_DRIVER", "STORAGE_DRIVER", "REDIS_ENABLED"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr: got %q, want %q", cfg.Addr, ":8080")
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Fatalf("IdleTimeout: got %v, want %v", cfg.IdleTimeout, 60*time.Second)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("ShutdownTimeout: got %v, want %v", cfg.ShutdownTimeout, 10*time.Second)
	}
	if cfg.WriteTimeout != 5*time.Minute {
		t.Fatalf("WriteTimeout: got %v, want %v", cfg.WriteTimeout, 5*time.Minute)
	}
	if cfg.StoreDriver != StoreMemory || cfg.StorageDriver != StorageDisk {
		t.Fatalf("drivers: got %q/%q", cfg.StoreDriver, cfg.StorageDriver)
	}
	if cfg.RedisEnabled {
		t.Fatal("RedisEnabled should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestConfigLoad_ReadsEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ADDR", ":18080")
	t.Setenv("IDLE_TIMEOUT", "2m")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("READ_HEADER_TIMEOUT", "4s")
	t.Setenv("READ_TIMEOUT", "5s")
	t.Setenv("WRITE_TIMEOUT", "6s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORE_DRIVER", "Redis")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("PUBLIC_BASE_URL", "https://zap.example/")
	t.Setenv("UPLOAD_MAX_BYTES", "1048576")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("CODE_MIN_LENGTH", "not-a-number")

	cfg := Load()

	if cfg.Addr != ":18080" {
		t.Fatalf("Addr: got %q, want %q", cfg.Addr, ":18080")
	}
	if cfg.IdleTimeout != 2*time.Minute || cfg.ShutdownTimeout != 3*time.Second ||
		cfg.ReadHeaderTimeout != 4*time.Second || cfg.ReadTimeout != 5*time.Second || cfg.WriteTimeout != 6*time.Second {
		t.Fatalf("timeouts not loaded: %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel: got %v", cfg.LogLevel)
	}
	if cfg.StoreDriver != StoreRedis || !cfg.RedisEnabled {
		t.Fatalf("redis store should enable redis: driver=%q enabled=%v", cfg.StoreDriver, cfg.RedisEnabled)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("KafkaBrokers: got %v", cfg.KafkaBrokers)
	}
	if cfg.PublicBaseURL != "https://zap.example" {
		t.Fatalf("PublicBaseURL: got %q", cfg.PublicBaseURL)
	}
	if cfg.UploadMaxBytes != 1<<20 {
		t.Fatalf("UploadMaxBytes: got %d", cfg.UploadMaxBytes)
	}
	if cfg.SweepInterval != 15*time.Second {
		t.Fatalf("SweepInterval: got %v", cfg.SweepInterval)
	}
	if cfg.CodeMinLength != 6 {
		t.Fatalf("bad CODE_MIN_LENGTH should keep default, got %d", cfg.CodeMinLength)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := Load()
	cfg.StoreDriver = "sqlite"
	cfg.StorageDriver = "ftp"
	cfg.PublicBaseURL = "zap.example"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"STORE_DRIVER", "STORAGE_DRIVER", "PUBLIC_BASE_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q should mention %s", err, want)
		}
	}
}
