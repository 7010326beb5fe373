package egress

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Descriptor 描述一个出站代理的连接参数，解析后不可变。
type Descriptor struct {
	// ID 为不含凭证的规范化地址，例如 socks5://10.0.0.2:1080，用作池内唯一键。
	ID       string
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
}

var supportedSchemes = map[string]string{
	"http":   "http",
	"https":  "https",
	"socks5": "socks5",
	"socks":  "socks5",
}

var defaultPorts = map[string]int{
	"http":   80,
	"https":  443,
	"socks5": 1080,
}

// ParseDescriptor 解析 scheme://[user:pass@]host:port 或裸 host:port 形式的代理地址。
// 缺少协议时按端口推断：1080/9050 视为 socks5，443 视为 https，其余默认为 http。
func ParseDescriptor(raw string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Descriptor{}, errors.New("代理地址为空")
	}

	explicit := strings.Contains(raw, "://")
	target := raw
	if !explicit {
		target = "http://" + raw
	}
	u, err := url.Parse(target)
	if err != nil {
		return Descriptor{}, fmt.Errorf("代理地址非法: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if explicit {
		normalized, ok := supportedSchemes[scheme]
		if !ok {
			return Descriptor{}, fmt.Errorf("不支持的代理协议: %s", u.Scheme)
		}
		scheme = normalized
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Descriptor{}, fmt.Errorf("代理缺少 Host: %s", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return Descriptor{}, fmt.Errorf("代理地址不应包含路径: %s", raw)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Descriptor{}, fmt.Errorf("代理端口非法: %s", p)
		}
	}
	if !explicit {
		scheme = guessScheme(port)
	}
	if port == 0 {
		port = defaultPorts[scheme]
	}

	desc := Descriptor{
		Scheme: scheme,
		Host:   host,
		Port:   port,
	}
	if u.User != nil {
		desc.Username = u.User.Username()
		desc.Password, _ = u.User.Password()
	}
	desc.ID = fmt.Sprintf("%s://%s", scheme, desc.hostPort())
	return desc, nil
}

func guessScheme(port int) string {
	switch port {
	case 1080, 9050:
		return "socks5"
	case 443:
		return "https"
	default:
		return "http"
	}
}

func (d Descriptor) hostPort() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// URL 返回可直接交给 http.ProxyURL 的代理地址，包含凭证。
func (d Descriptor) URL() *url.URL {
	u := &url.URL{Scheme: d.Scheme, Host: d.hostPort()}
	if d.Username != "" {
		u.User = url.UserPassword(d.Username, d.Password)
	}
	return u
}

// Redacted 返回隐藏密码后的地址，用于日志与诊断输出。
func (d Descriptor) Redacted() string {
	u := d.URL()
	if d.Username != "" {
		u.User = url.UserPassword(d.Username, "xxxxx")
	}
	return u.String()
}

// HasCredentials 表示代理是否需要鉴权。
func (d Descriptor) HasCredentials() bool {
	return d.Username != ""
}
