package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/HugoSmits86/nativewebp"
	imgx "github.com/disintegration/imaging"
)

// ErrDecode 表示原始媒体不是可识别的图片。
var ErrDecode = errors.New("source media is not a decodable image")

// ErrEncode 表示转换后的图片编码失败。
var ErrEncode = errors.New("failed to encode converted image")

// Convert 解码 body，按 p 调整尺寸并重新编码，返回新内容与其 Content-Type。
// 解码支持 JPEG、PNG、GIF、BMP、TIFF 与 WebP，并按 EXIF 方向自动旋转。
func Convert(body []byte, p Params) ([]byte, string, error) {
	src, err := imgx.Decode(bytes.NewReader(body), imgx.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	out := resize(src, p)

	format := p.OutputFormat()
	var buf bytes.Buffer
	switch format {
	case FormatWebP:
		err = nativewebp.Encode(&buf, out, nil)
	case FormatPNG:
		err = imgx.Encode(&buf, out, imgx.PNG)
	case FormatGIF:
		err = imgx.Encode(&buf, out, imgx.GIF)
	default:
		quality := p.Quality
		if quality == 0 {
			quality = DefaultQuality
		}
		err = imgx.Encode(&buf, out, imgx.JPEG, imgx.JPEGQuality(quality))
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), format.MIME(), nil
}

// targetSize 计算目标宽高；只给出一边时按原图比例推算另一边。
func targetSize(bounds image.Rectangle, p Params) (int, int) {
	srcW, srcH := bounds.Dx(), bounds.Dy()
	w, h := p.Width, p.Height
	switch {
	case w > 0 && h == 0:
		h = int(float64(w) * float64(srcH) / float64(srcW))
	case h > 0 && w == 0:
		w = int(float64(h) * float64(srcW) / float64(srcH))
	}
	return max(w, 1), max(h, 1)
}

func resize(src image.Image, p Params) image.Image {
	if p.Width == 0 && p.Height == 0 {
		return src
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return src
	}
	w, h := targetSize(bounds, p)

	switch p.Fit {
	case FitFill:
		return imgx.Fill(src, w, h, anchorFor(p.Focus), imgx.Lanczos)
	case FitCrop:
		return imgx.CropAnchor(src, min(w, bounds.Dx()), min(h, bounds.Dy()), anchorFor(p.Focus))
	case FitPad:
		fitted := fitWithin(src, w, h)
		return imgx.PasteCenter(imgx.New(w, h, color.Transparent), fitted)
	case FitThumb:
		return fitWithin(src, w, h)
	default:
		return imgx.Resize(src, w, h, imgx.Lanczos)
	}
}

// fitWithin 等比缩放到 w×h 以内，小图同样会被放大。imgx.Fit 只缩小不放大。
func fitWithin(src image.Image, w, h int) image.Image {
	bounds := src.Bounds()
	srcRatio := float64(bounds.Dx()) / float64(bounds.Dy())
	if srcRatio > float64(w)/float64(h) {
		return imgx.Resize(src, w, 0, imgx.Lanczos)
	}
	return imgx.Resize(src, 0, h, imgx.Lanczos)
}

func anchorFor(f Focus) imgx.Anchor {
	switch f {
	case FocusTop:
		return imgx.Top
	case FocusBottom:
		return imgx.Bottom
	case FocusLeft:
		return imgx.Left
	case FocusRight:
		return imgx.Right
	case FocusTopLeft:
		return imgx.TopLeft
	case FocusTopRight:
		return imgx.TopRight
	case FocusBottomLeft:
		return imgx.BottomLeft
	case FocusBottomRight:
		return imgx.BottomRight
	default:
		return imgx.Center
	}
}
