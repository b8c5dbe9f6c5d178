package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfigFile 写入临时配置文件
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
server:
  addr: ":9090"
  mode: release
  public_url: https://app.example.edu.cn

cas:
  base_url: https://cas.example.edu.cn/cas
  service_url: https://app.example.edu.cn/api/cas/validate
  validate_timeout: 5s

session:
  secret: 0123456789abcdef0123456789abcdef

rate_limit:
  store: redis

redis:
  addr: redis.internal:6379
`

func TestLoadFromFile(t *testing.T) {
	cfg, err := LoadFromFile(writeConfigFile(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "https://cas.example.edu.cn/cas", cfg.CAS.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.CAS.ValidateTimeout)
	assert.Equal(t, "redis", cfg.RateLimit.Store)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
}

// TestLoadFromFile_Defaults 未显式配置的项取默认值
func TestLoadFromFile_Defaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfigFile(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.CAS.StateMaxAge)
	assert.Equal(t, "cas-gateway.session-token", cfg.Session.CookieName)
	assert.Equal(t, "cas-gateway.csrf-token", cfg.Session.CSRFCookieName)
	assert.Equal(t, 24*time.Hour, cfg.Session.MaxAge)
	assert.Equal(t, time.Hour, cfg.Session.UpdateAge)
	assert.Equal(t, 100, cfg.RateLimit.Limit)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
}

// TestLoadFromFile_SecretTooShort 弱密钥不允许启动
func TestLoadFromFile_SecretTooShort(t *testing.T) {
	_, err := LoadFromFile(writeConfigFile(t, `
cas:
  base_url: https://cas.example.edu.cn/cas
  service_url: https://app.example.edu.cn/api/cas/validate

session:
  secret: short
`))
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

// TestLoadFromFile_CASBaseMissing 缺少 CAS 地址拒绝启动
func TestLoadFromFile_CASBaseMissing(t *testing.T) {
	_, err := LoadFromFile(writeConfigFile(t, `
session:
  secret: 0123456789abcdef0123456789abcdef
`))
	assert.ErrorIs(t, err, ErrCASBaseMissing)
}

func TestLoadFromFile_NotExist(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		CAS: CASConfig{
			BaseURL:    "https://cas.example.edu.cn/cas",
			ServiceURL: "https://app.example.edu.cn/api/cas/validate",
		},
		Session: SessionConfig{Secret: "0123456789abcdef0123456789abcdef"},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Session.Secret = "0123456789abcdef0123456789abcde"
	assert.ErrorIs(t, cfg.Validate(), ErrSecretTooShort)
}
