package sniff

import "testing"

func TestDetectMagicNumbers(t *testing.T) {
	cases := []struct {
		name string
		body []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}, "image/jpeg"},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, "image/png"},
		{"gif87", []byte("GIF87a......"), "image/gif"},
		{"gif89", []byte("GIF89a......"), "image/gif"},
		{"webp", []byte("RIFF\x24\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"riff wave", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), Fallback},
		{"bmp", []byte("BM\x36\x00\x00\x00"), "image/bmp"},
		{"tiff le", []byte{'I', 'I', 0x2A, 0x00, 0x08}, "image/tiff"},
		{"tiff be", []byte{'M', 'M', 0x00, 0x2A, 0x00}, "image/tiff"},
		{"ico", []byte{0x00, 0x00, 0x01, 0x00, 0x01}, "image/x-icon"},
		{"truncated jpeg", []byte{0xFF, 0xD8}, Fallback},
		{"empty", nil, Fallback},
		{"html", []byte("<!doctype html>"), Fallback},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Detect(tc.body, ""); got != tc.want {
				t.Fatalf("Detect(%q) = %s, want %s", tc.body, got, tc.want)
			}
		})
	}
}

func TestDetectTrustsAllowListedHint(t *testing.T) {
	corrupted := []byte{0x00, 0x01, 0x02}
	if got := Detect(corrupted, "image/png"); got != "image/png" {
		t.Fatalf("白名单 hint 应直接采用, got %s", got)
	}
	if got := Detect(corrupted, "IMAGE/WEBP; charset=binary"); got != "image/webp" {
		t.Fatalf("hint 应去掉参数并小写, got %s", got)
	}
}

func TestDetectIgnoresUntrustedHint(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xDB}
	for _, hint := range []string{"text/html", "application/octet-stream", "image/", ";;", "image/heic"} {
		if got := Detect(jpeg, hint); got != "image/jpeg" {
			t.Fatalf("hint %q 不应被信任, got %s", hint, got)
		}
	}
	if got := Detect([]byte("nope"), "text/plain"); got != Fallback {
		t.Fatalf("无法识别时应回退, got %s", got)
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	body := []byte("GIF89a")
	first := Detect(body, "")
	for i := 0; i < 10; i++ {
		if Detect(body, "") != first {
			t.Fatalf("Detect 应是确定性的")
		}
	}
}
