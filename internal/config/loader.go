package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 环境变量覆盖项，逗号分隔的列表会被拆分为切片。
const (
	EnvProxies   = "PROXIES"
	EnvCookies   = "INSTAGRAM_COOKIES"
	EnvWhitelist = "INSTAGRAM_USERNAME_WHITELIST"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyEgressDefaults(&cfg.Egress)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.BlobStoragePath != "" {
		abs, err := filepath.Abs(cfg.Global.BlobStoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析图片缓存目录: %w", err)
		}
		cfg.Global.BlobStoragePath = abs
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenAddress", "0.0.0.0")
	v.SetDefault("ListenPort", 8000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheTTL", "24h")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxRetries", 2)
	v.SetDefault("InitialBackoff", "500ms")
	v.SetDefault("MaxBackoff", "5s")
	v.SetDefault("BlobStoragePath", "")
	v.SetDefault("MaxBlobSize", 20*1024*1024)
	v.SetDefault("ImageMaxAge", "24h")
	v.SetDefault("Egress.Cooldown", "4h")
	v.SetDefault("Egress.AllowDirect", false)
}

// bindEnv 将部署环境中常用的变量映射到对应配置键，环境变量优先于文件。
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("Egress.Proxies", EnvProxies)
	_ = v.BindEnv("Cookies", EnvCookies)
	_ = v.BindEnv("UsernameWhitelist", EnvWhitelist)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8000
	}
	if g.CacheTTL.DurationValue() == 0 {
		g.CacheTTL = Duration(24 * time.Hour)
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(500 * time.Millisecond)
	}
	if g.MaxBackoff.DurationValue() < g.InitialBackoff.DurationValue() {
		g.MaxBackoff = g.InitialBackoff
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.UsernameWhitelist = trimList(g.UsernameWhitelist)
	g.Cookies = strings.TrimSpace(g.Cookies)
}

func applyEgressDefaults(e *EgressConfig) {
	if e.Cooldown.DurationValue() == 0 {
		e.Cooldown = Duration(4 * time.Hour)
	}
	e.Proxies = trimList(e.Proxies)
}

// trimList 去除空白与空项，兼容 "a, b,," 这类环境变量写法。
func trimList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
