package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// 配置校验错误
var (
	ErrSecretTooShort = errors.New("会话签名密钥长度不足 32 字节")
	ErrCASBaseMissing = errors.New("缺少 CAS 服务器地址配置")
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	CAS       CASConfig       `mapstructure:"cas"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	PublicURL    string        `mapstructure:"public_url"`
	TLSCertPath  string        `mapstructure:"tls_cert_path"`
	TLSKeyPath   string        `mapstructure:"tls_key_path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CASConfig CAS 服务器配置
type CASConfig struct {
	// BaseURL CAS 服务器地址（含路径前缀，如 https://cas.example.edu.cn/cas）
	BaseURL string `mapstructure:"base_url"`
	// ServiceURL 回调验证使用的 service 参数
	ServiceURL string `mapstructure:"service_url"`
	// ValidateTimeout serviceValidate 请求超时时间
	ValidateTimeout time.Duration `mapstructure:"validate_timeout"`
	// StateMaxAge 登录状态参数最大有效期（防重放）
	StateMaxAge time.Duration `mapstructure:"state_max_age"`
}

// SessionConfig 会话配置
type SessionConfig struct {
	// Secret 会话签名密钥，至少 32 字节
	Secret string `mapstructure:"secret"`
	// CookieName 会话 Cookie 名称
	CookieName string `mapstructure:"cookie_name"`
	// CSRFCookieName CSRF Cookie 名称
	CSRFCookieName string `mapstructure:"csrf_cookie_name"`
	// MaxAge 会话绝对有效期
	MaxAge time.Duration `mapstructure:"max_age"`
	// UpdateAge 滑动刷新间隔
	UpdateAge time.Duration `mapstructure:"update_age"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	// Limit 窗口内允许的请求数
	Limit int `mapstructure:"limit"`
	// Window 固定窗口长度
	Window time.Duration `mapstructure:"window"`
	// Store 存储方式：memory（单实例）或 redis（多实例）
	Store string `mapstructure:"store"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load 加载配置
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 支持环境变量覆盖
	viper.AutomaticEnv()

	// 设置默认值
	setDefaultsOn(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromFile 从指定文件加载配置
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaultsOn(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验配置
// 密钥长度和 CAS 地址是启动前置条件，缺失直接失败
func (c *Config) Validate() error {
	if len(c.Session.Secret) < 32 {
		return ErrSecretTooShort
	}
	if c.CAS.BaseURL == "" || c.CAS.ServiceURL == "" {
		return ErrCASBaseMissing
	}
	if _, err := url.Parse(c.CAS.BaseURL); err != nil {
		return fmt.Errorf("CAS 服务器地址无效: %w", err)
	}
	return nil
}

// setDefaultsOn 设置默认值
func setDefaultsOn(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	// CAS 默认配置
	v.SetDefault("cas.validate_timeout", "10s")
	v.SetDefault("cas.state_max_age", "5m")

	// 会话默认配置
	v.SetDefault("session.cookie_name", "cas-gateway.session-token")
	v.SetDefault("session.csrf_cookie_name", "cas-gateway.csrf-token")
	v.SetDefault("session.max_age", "24h")
	v.SetDefault("session.update_age", "1h")

	// 速率限制默认配置
	v.SetDefault("rate_limit.limit", 100)
	v.SetDefault("rate_limit.window", "15m")
	v.SetDefault("rate_limit.store", "memory")

	// Redis 默认配置
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}
