package access

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEmptyWhitelistAllowsAll(t *testing.T) {
	w, err := NewWhitelist(nil, "")
	if err != nil {
		t.Fatalf("NewWhitelist error: %v", err)
	}
	if w.Enabled() || !w.IsAllowed("anyone") {
		t.Fatalf("空白名单应放行所有账号")
	}
	var nilList *Whitelist
	if !nilList.IsAllowed("anyone") {
		t.Fatalf("nil 白名单应放行所有账号")
	}
}

func TestWhitelistIsCaseInsensitive(t *testing.T) {
	w, err := NewWhitelist([]string{"NatGeo", " @nasa "}, "")
	if err != nil {
		t.Fatalf("NewWhitelist error: %v", err)
	}
	if !w.IsAllowed("natgeo") || !w.IsAllowed("NASA") {
		t.Fatalf("白名单比较应忽略大小写")
	}
	if err := w.Check("someone"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("非白名单账号应返回 ErrNotAllowed, got %v", err)
	}
}

func TestWhitelistMergesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.yaml")
	content := "usernames:\n  - alice\n  - Bob\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入白名单文件失败: %v", err)
	}

	w, err := NewWhitelist([]string{"carol"}, path)
	if err != nil {
		t.Fatalf("NewWhitelist error: %v", err)
	}
	names := w.Names()
	if len(names) != 3 || names[0] != "alice" || names[1] != "bob" || names[2] != "carol" {
		t.Fatalf("白名单合并结果错误: %v", names)
	}
}

func TestWhitelistMissingFileIsIgnored(t *testing.T) {
	w, err := NewWhitelist([]string{"alice"}, filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("缺失文件应被忽略: %v", err)
	}
	if !w.IsAllowed("alice") || w.IsAllowed("bob") {
		t.Fatalf("应仅使用配置中的白名单")
	}
}

func TestWhitelistRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("usernames: [unclosed"), 0o600); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}
	if _, err := NewWhitelist(nil, path); err == nil {
		t.Fatalf("格式错误的文件应返回错误")
	}
}
