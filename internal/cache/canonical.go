package cache

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL 表示媒体地址无法解析为 http/https 绝对地址。
var ErrInvalidURL = errors.New("invalid media url")

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// CanonicalURL 将媒体地址规范化为缓存键：整体编码的地址先解码一次，scheme/host 小写，
// 去掉默认端口、凭证与片段，路径按统一规则重新转义，查询参数按 key 排序后重新编码。
// 语义相同但编码不同的地址得到相同结果。
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		if decoded, err := url.PathUnescape(raw); err == nil && strings.Contains(decoded, "://") {
			raw = decoded
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if _, ok := defaultPorts[scheme]; !ok {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		host = host + ":" + port
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	out := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   path,
	}
	if u.RawQuery != "" {
		if values, err := url.ParseQuery(u.RawQuery); err == nil {
			out.RawQuery = values.Encode()
		} else {
			out.RawQuery = u.RawQuery
		}
	}
	return out.String(), nil
}
