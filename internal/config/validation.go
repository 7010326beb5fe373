package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/scrapn/scrapn/internal/egress"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.ListenAddress != "" && net.ParseIP(g.ListenAddress) == nil && g.ListenAddress != "localhost" {
		return newFieldError("Global.ListenAddress", "必须是 IP 地址或 localhost")
	}
	if g.CacheTTL.DurationValue() <= 0 {
		return newFieldError("Global.CacheTTL", "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxBlobSize <= 0 {
		return newFieldError("Global.MaxBlobSize", "必须大于 0")
	}
	if g.ImageMaxAge.DurationValue() < 0 {
		return newFieldError("Global.ImageMaxAge", "不能为负数")
	}
	for i, name := range g.UsernameWhitelist {
		if strings.ContainsAny(name, "/ ?#") {
			return newFieldError(fmt.Sprintf("Global.UsernameWhitelist[%d]", i), "包含非法字符")
		}
	}

	if c.Egress.Cooldown.DurationValue() <= 0 {
		return newFieldError("Egress.Cooldown", "必须大于 0")
	}
	seen := make(map[string]struct{}, len(c.Egress.Proxies))
	for i, raw := range c.Egress.Proxies {
		desc, err := egress.ParseDescriptor(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", proxyField(i), err)
		}
		if _, dup := seen[desc.ID]; dup {
			return newFieldError(proxyField(i), "重复")
		}
		seen[desc.ID] = struct{}{}
	}

	return nil
}

// Descriptors 将配置中的代理字符串解析为出站描述符，调用前应已通过 Validate。
func (c *Config) Descriptors() ([]egress.Descriptor, error) {
	out := make([]egress.Descriptor, 0, len(c.Egress.Proxies))
	for i, raw := range c.Egress.Proxies {
		desc, err := egress.ParseDescriptor(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", proxyField(i), err)
		}
		out = append(out, desc)
	}
	return out, nil
}
