package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

type sample struct {
	DB struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
	} `yaml:"db"`
	JWT struct {
		Secret    string        `yaml:"secret"`
		AccessTTL time.Duration `yaml:"access_ttl"`
	} `yaml:"jwt"`
	Gating []int `yaml:"gating"`
}

func TestLoadIntoLayersFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  password: ${DB_PASSWORD}
jwt:
  secret: ${MISSING_SECRET}
  access_ttl: 15m
gating: [3]
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: db.staging
gating: [3, 4]
`)
	writeFile(t, dir, "secrets.env", `
# comment
DB_PASSWORD="s3cret"
`)

	var out sample
	require.NoError(t, LoadInto("staging", dir, &out))

	assert.Equal(t, "db.staging", out.DB.Host)
	assert.Equal(t, 5432, out.DB.Port, "keys absent from the env file keep base values")
	assert.Equal(t, "s3cret", out.DB.Password)
	assert.Equal(t, "${MISSING_SECRET}", out.JWT.Secret)
	assert.Equal(t, 15*time.Minute, out.JWT.AccessTTL)
	assert.Equal(t, []int{3, 4}, out.Gating)
}

func TestProcessEnvBeatsSecretsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  password: ${DB_PASSWORD}\n")
	writeFile(t, dir, "secrets.env", "DB_PASSWORD=from-file\n")
	t.Setenv("DB_PASSWORD", "from-env")

	var out sample
	require.NoError(t, LoadInto("local", dir, &out))
	assert.Equal(t, "from-env", out.DB.Password)
}

func TestLoadConfigMissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	assert.Error(t, err)
}

func TestOverrideJWTFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("JWT_ACCESS_TTL", "5m")

	cfg := JWTConfig{Secret: "file", AccessTTL: time.Minute}
	OverrideJWTFromEnv(&cfg)
	assert.Equal(t, "env-secret", cfg.Secret)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
}
