// Package sniff 根据魔数与上游提示推断媒体类型，纯函数实现，不做任何 I/O。
package sniff

import (
	"mime"
	"strings"
)

// Fallback 是无法识别内容时返回的通用二进制类型。
const Fallback = "application/octet-stream"

// trustedHints 为可直接信任的上游 Content-Type，其它值一律回退到魔数识别。
var trustedHints = map[string]struct{}{
	"image/jpeg":               {},
	"image/png":                {},
	"image/gif":                {},
	"image/webp":               {},
	"image/bmp":                {},
	"image/tiff":               {},
	"image/x-icon":             {},
	"image/vnd.microsoft.icon": {},
	"image/avif":               {},
	"image/svg+xml":            {},
}

// signature 描述一个魔数：mask 中为 0x00 的位置表示任意字节。
type signature struct {
	pattern []byte
	mask    []byte
	mime    string
}

func (s signature) match(b []byte) bool {
	if len(b) < len(s.pattern) {
		return false
	}
	for i, p := range s.pattern {
		m := byte(0xFF)
		if s.mask != nil {
			m = s.mask[i]
		}
		if b[i]&m != p&m {
			return false
		}
	}
	return true
}

// 顺序即优先级，首个命中即返回。
var signatures = []signature{
	{pattern: []byte{0xFF, 0xD8, 0xFF}, mime: "image/jpeg"},
	{pattern: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, mime: "image/png"},
	{pattern: []byte("GIF87a"), mime: "image/gif"},
	{pattern: []byte("GIF89a"), mime: "image/gif"},
	{
		pattern: []byte("RIFF\x00\x00\x00\x00WEBP"),
		mask:    []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF},
		mime:    "image/webp",
	},
	{pattern: []byte("BM"), mime: "image/bmp"},
	{pattern: []byte{'I', 'I', 0x2A, 0x00}, mime: "image/tiff"},
	{pattern: []byte{'M', 'M', 0x00, 0x2A}, mime: "image/tiff"},
	{pattern: []byte{0x00, 0x00, 0x01, 0x00}, mime: "image/x-icon"},
}

// Detect 返回 body 的媒体类型：优先采用白名单内的 hint，其次匹配魔数，最后回退到 Fallback。
func Detect(body []byte, hint string) string {
	if trusted, ok := TrustedHint(hint); ok {
		return trusted
	}
	for _, sig := range signatures {
		if sig.match(body) {
			return sig.mime
		}
	}
	return Fallback
}

// TrustedHint 规范化 hint（去掉参数、转小写），仅当其位于白名单内时返回 true。
func TrustedHint(hint string) (string, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(hint)
	if err != nil {
		return "", false
	}
	mediaType = strings.ToLower(mediaType)
	if _, ok := trustedHints[mediaType]; !ok {
		return "", false
	}
	return mediaType, true
}
