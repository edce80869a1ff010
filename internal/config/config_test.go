package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "memory", cfg.Database.Driver)
	require.Equal(t, "disable", cfg.Database.SSLMode)
	require.Equal(t, "audit-reports", cfg.Minio.BucketName)
	require.Equal(t, 300, cfg.Audit.TimeoutSeconds)
	require.Equal(t, 3, cfg.Audit.MaxConcurrent)
	require.Equal(t, 3, cfg.Audit.RetryAttempts)
	require.Equal(t, 5, cfg.Audit.RetryDelaySeconds)
	require.Equal(t, 30, cfg.Audit.RetryDelayCapSeconds)
	require.Equal(t, 20, cfg.Scoring.Critical)
	require.Equal(t, 10, cfg.Scoring.High)
	require.Equal(t, 5, cfg.Scoring.Medium)
	require.Equal(t, 2, cfg.Scoring.Low)
	require.Zero(t, cfg.Scoring.Info)
	require.Equal(t, 60.0, cfg.Scoring.CriticalBelow)
	require.Equal(t, 80.0, cfg.Scoring.WarningBelow)
	require.Empty(t, cfg.Audit.Categories)
	require.Equal(t, "local", cfg.Executor.Driver)
	require.Equal(t, []string{"firewall-audit"}, cfg.Executor.Command)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: mysql
  host: db.internal
  port: 3307
  user: audit
  password: secret
  name: strati
audit:
  timeout_seconds: 60
  categories:
    - security-policies
    - logging
scoring:
  critical: 25
  critical_below: 50
executor:
  driver: docker
  image: audit/custom:1
`)
	t.Setenv("PORT", "") // neutralize any ambient override
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "mysql", cfg.Database.Driver)
	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, 60, cfg.Audit.TimeoutSeconds)
	require.Equal(t, []string{"security-policies", "logging"}, cfg.Audit.Categories)
	require.Equal(t, 25, cfg.Scoring.Critical)
	require.Equal(t, 50.0, cfg.Scoring.CriticalBelow)
	require.Equal(t, "docker", cfg.Executor.Driver)
	require.Equal(t, "audit/custom:1", cfg.Executor.Image)
	// untouched keys keep their defaults
	require.Equal(t, 3, cfg.Audit.RetryAttempts)
	require.Equal(t, 10, cfg.Scoring.High)
	require.Equal(t, 80.0, cfg.Scoring.WarningBelow)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("PORT", "7070")
	t.Setenv("AUDIT_TIMEOUT", "120")
	t.Setenv("MAX_CONCURRENT_AUDITS", "8")
	t.Setenv("EXECUTOR_DRIVER", "ssh")
	t.Setenv("DB_PASSWORD", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 120, cfg.Audit.TimeoutSeconds)
	require.Equal(t, 2*time.Minute, cfg.AuditTimeout())
	require.Equal(t, 8, cfg.Audit.MaxConcurrent)
	require.Equal(t, "ssh", cfg.Executor.Driver)
	require.Equal(t, "env-secret", cfg.Database.Password)
}

func TestEnvIgnoresGarbageInts(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: not-a-number\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestDSNBuilders(t *testing.T) {
	cfg := Default()
	cfg.Database.Host = "db.internal"
	cfg.Database.Port = 3306
	cfg.Database.User = "audit"
	cfg.Database.Password = "s3cret"
	cfg.Database.Name = "strati"

	require.Equal(t,
		"audit:s3cret@tcp(db.internal:3306)/strati?parseTime=true&charset=utf8mb4&loc=UTC",
		cfg.MySQLDSN())
	require.Equal(t,
		"host=db.internal port=3306 user=audit password=s3cret dbname=strati sslmode=disable",
		cfg.PostgresDSN())
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	require.Equal(t, 5*time.Minute, cfg.AuditTimeout())
	require.Equal(t, 5*time.Second, cfg.RetryDelay())
	require.Equal(t, 30*time.Second, cfg.RetryDelayCap())
	require.Equal(t, 15*time.Second, cfg.HandshakeTimeout())
}
