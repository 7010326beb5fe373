package upstream

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 对上游失败分类，请求层据此映射 HTTP 状态码。
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindPrivate        Kind = "private"
	KindRateLimited    Kind = "rate_limited"
	KindStatus         Kind = "bad_status"
	KindNetwork        Kind = "network"
	KindProxy          Kind = "proxy"
	KindParse          Kind = "parse"
	KindProxyExhausted Kind = "proxy_exhausted"
	KindTooLarge       Kind = "too_large"
)

// ErrProxyExhausted 表示代理池非空但没有可用代理，且不允许直连。
var ErrProxyExhausted = errors.New("no egress proxy available")

// FetchError 描述一次上游抓取失败，可通过 errors.As 取出。
type FetchError struct {
	Kind       Kind
	Op         string
	URL        string
	StatusCode int
	Egress     string
	Err        error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "fetch error"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.URL != "" {
		b.WriteString(" url=")
		b.WriteString(e.URL)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf 返回 err 链上第一个 FetchError 的分类，不存在时返回空字符串。
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// priority 用于多个抓取策略都失败时挑选最有信息量的错误。
func (k Kind) priority() int {
	switch k {
	case KindNotFound, KindPrivate, KindProxyExhausted:
		return 5
	case KindRateLimited:
		return 4
	case KindProxy, KindNetwork:
		return 3
	case KindStatus, KindTooLarge:
		return 2
	case KindParse:
		return 1
	default:
		return 0
	}
}

// terminal 表示换一种抓取策略也无法改变结果的错误。
func (k Kind) terminal() bool {
	return k == KindNotFound || k == KindPrivate || k == KindProxyExhausted
}
