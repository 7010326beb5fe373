// Package imaging 按查询参数对媒体做缩放、裁剪、留白与格式转换。
// 转换结果由调用方缓存，CacheKey 描述一组参数对应的派生版本。
package imaging

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidParams 表示查询参数无法解析或取值不受支持。
var ErrInvalidParams = errors.New("invalid image conversion parameters")

// MaxDimension 限制输出宽高，避免单次请求分配过大的画布。
const MaxDimension = 4096

// DefaultQuality 是未指定 quality 时的 JPEG 质量。
const DefaultQuality = 85

// Format 是输出编码格式。
type Format string

const (
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
)

// MIME 返回格式对应的 Content-Type。
func (f Format) MIME() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Fit 决定目标尺寸与原图比例不一致时的处理方式。
type Fit string

const (
	FitScale Fit = "scale" // 拉伸到目标尺寸
	FitFill  Fit = "fill"  // 等比放大铺满后按 focus 裁剪
	FitCrop  Fit = "crop"  // 不缩放，直接按 focus 裁剪
	FitPad   Fit = "pad"   // 等比缩放后居中，四周透明
	FitThumb Fit = "thumb" // 等比缩放到目标尺寸以内
)

var fits = map[string]Fit{
	"scale": FitScale,
	"fill":  FitFill,
	"crop":  FitCrop,
	"pad":   FitPad,
	"thumb": FitThumb,
}

// Focus 是裁剪时保留的区域。face/faces 暂按 center 处理。
type Focus string

const (
	FocusCenter      Focus = "center"
	FocusTop         Focus = "top"
	FocusBottom      Focus = "bottom"
	FocusLeft        Focus = "left"
	FocusRight       Focus = "right"
	FocusTopLeft     Focus = "top_left"
	FocusTopRight    Focus = "top_right"
	FocusBottomLeft  Focus = "bottom_left"
	FocusBottomRight Focus = "bottom_right"
	FocusFace        Focus = "face"
	FocusFaces       Focus = "faces"
)

var focuses = map[string]Focus{
	"center":       FocusCenter,
	"top":          FocusTop,
	"bottom":       FocusBottom,
	"left":         FocusLeft,
	"right":        FocusRight,
	"top_left":     FocusTopLeft,
	"top_right":    FocusTopRight,
	"bottom_left":  FocusBottomLeft,
	"bottom_right": FocusBottomRight,
	"face":         FocusFace,
	"faces":        FocusFaces,
}

// Query 是未经校验的原始查询参数，空字符串表示未提供。
type Query struct {
	Width   string
	Height  string
	Format  string
	Quality string
	Fit     string
	Focus   string
}

// Params 是校验后的转换参数，零值字段表示未设置。
type Params struct {
	Width   int
	Height  int
	Format  Format
	Quality int
	Fit     Fit
	Focus   Focus
}

// ParseQuery 校验查询参数。取值大小写不敏感，jpeg 视为 jpg。
func ParseQuery(q Query) (Params, error) {
	var p Params
	var err error
	if p.Width, err = parseDimension("width", q.Width); err != nil {
		return Params{}, err
	}
	if p.Height, err = parseDimension("height", q.Height); err != nil {
		return Params{}, err
	}

	if v := normalize(q.Format); v != "" {
		switch v {
		case "jpg", "jpeg":
			p.Format = FormatJPEG
		case "png":
			p.Format = FormatPNG
		case "gif":
			p.Format = FormatGIF
		case "webp":
			p.Format = FormatWebP
		default:
			return Params{}, fmt.Errorf("%w: unsupported format %q", ErrInvalidParams, q.Format)
		}
	}

	if v := strings.TrimSpace(q.Quality); v != "" {
		quality, convErr := strconv.Atoi(v)
		if convErr != nil || quality < 1 || quality > 100 {
			return Params{}, fmt.Errorf("%w: quality must be an integer between 1 and 100", ErrInvalidParams)
		}
		p.Quality = quality
	}

	if v := normalize(q.Fit); v != "" {
		fit, ok := fits[v]
		if !ok {
			return Params{}, fmt.Errorf("%w: unsupported fit %q", ErrInvalidParams, q.Fit)
		}
		p.Fit = fit
	}

	if v := normalize(q.Focus); v != "" {
		focus, ok := focuses[v]
		if !ok {
			return Params{}, fmt.Errorf("%w: unsupported focus %q", ErrInvalidParams, q.Focus)
		}
		p.Focus = focus
	}
	return p, nil
}

func parseDimension(name, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxDimension {
		return 0, fmt.Errorf("%w: %s must be an integer between 1 and %d", ErrInvalidParams, name, MaxDimension)
	}
	return n, nil
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// NeedsConversion 表示是否设置了任一参数；未设置时直接返回原图。
func (p Params) NeedsConversion() bool {
	return p != Params{}
}

// OutputFormat 返回实际编码格式，未指定时为 JPEG。
func (p Params) OutputFormat() Format {
	if p.Format == "" {
		return FormatJPEG
	}
	return p.Format
}

// CacheKey 以固定顺序拼接已设置的参数，例如 "w320_h320_fwebp_fitfill_focustopleft"。
// 未设置任何参数时返回 "original"。
func (p Params) CacheKey() string {
	var parts []string
	if p.Width > 0 {
		parts = append(parts, "w"+strconv.Itoa(p.Width))
	}
	if p.Height > 0 {
		parts = append(parts, "h"+strconv.Itoa(p.Height))
	}
	if p.Format != "" {
		parts = append(parts, "f"+string(p.Format))
	}
	if p.Quality > 0 {
		parts = append(parts, "q"+strconv.Itoa(p.Quality))
	}
	if p.Fit != "" {
		parts = append(parts, "fit"+string(p.Fit))
	}
	if p.Focus != "" {
		parts = append(parts, "focus"+strings.ReplaceAll(string(p.Focus), "_", ""))
	}
	if len(parts) == 0 {
		return "original"
	}
	return strings.Join(parts, "_")
}
