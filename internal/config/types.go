package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"4h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述服务监听、日志与抓取相关的全局参数。
type GlobalConfig struct {
	ListenAddress     string   `mapstructure:"ListenAddress"`
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	CacheTTL          Duration `mapstructure:"CacheTTL"`
	UpstreamTimeout   Duration `mapstructure:"UpstreamTimeout"`
	MaxRetries        int      `mapstructure:"MaxRetries"`
	InitialBackoff    Duration `mapstructure:"InitialBackoff"`
	MaxBackoff        Duration `mapstructure:"MaxBackoff"`
	UserAgent         string   `mapstructure:"UserAgent"`
	Cookies           string   `mapstructure:"Cookies"`
	UsernameWhitelist []string `mapstructure:"UsernameWhitelist"`
	WhitelistFile     string   `mapstructure:"WhitelistFile"`
	BlobStoragePath   string   `mapstructure:"BlobStoragePath"`
	MaxBlobSize       int64    `mapstructure:"MaxBlobSize"`
	ImageMaxAge       Duration `mapstructure:"ImageMaxAge"`
}

// EgressConfig 描述出站代理池：代理列表、失败冷却时长以及是否允许直连兜底。
type EgressConfig struct {
	Proxies     []string `mapstructure:"Proxies"`
	Cooldown    Duration `mapstructure:"Cooldown"`
	AllowDirect bool     `mapstructure:"AllowDirect"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Egress EgressConfig `mapstructure:"Egress"`
}

// ListenAddr 组合监听地址，供 HTTP 服务使用。
func (g GlobalConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", g.ListenAddress, g.ListenPort)
}

// EgressMode 输出 `rotating` 或 `direct`，供启动日志使用。
func (e EgressConfig) EgressMode() string {
	if len(e.Proxies) > 0 {
		return "rotating"
	}
	return "direct"
}
