// Package access 决定哪些账号允许被抓取。
package access

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotAllowed 表示账号不在白名单内。
var ErrNotAllowed = errors.New("username not in whitelist")

type whitelistFile struct {
	Usernames []string `yaml:"usernames"`
}

// Whitelist 为只读集合，构建后可并发使用。为空时放行所有账号。
type Whitelist struct {
	names map[string]struct{}
}

// NewWhitelist 由配置列表与可选的 YAML 文件合并构建白名单；文件不存在时忽略。
func NewWhitelist(names []string, filePath string) (*Whitelist, error) {
	w := &Whitelist{names: make(map[string]struct{}, len(names))}
	w.add(names)

	if strings.TrimSpace(filePath) == "" {
		return w, nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return w, nil
		}
		return nil, fmt.Errorf("读取白名单文件失败: %w", err)
	}
	var file whitelistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析白名单文件失败: %w", err)
	}
	w.add(file.Usernames)
	return w, nil
}

func (w *Whitelist) add(names []string) {
	for _, name := range names {
		normalized := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
		if normalized != "" {
			w.names[normalized] = struct{}{}
		}
	}
}

// Enabled 表示是否配置了白名单。
func (w *Whitelist) Enabled() bool {
	return w != nil && len(w.names) > 0
}

// IsAllowed 判断账号是否可以被抓取，比较时忽略大小写。
func (w *Whitelist) IsAllowed(username string) bool {
	if !w.Enabled() {
		return true
	}
	_, ok := w.names[strings.ToLower(strings.TrimSpace(username))]
	return ok
}

// Check 与 IsAllowed 相同，但以错误形式返回结果。
func (w *Whitelist) Check(username string) error {
	if w.IsAllowed(username) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotAllowed, username)
}

// Names 返回排序后的白名单，用于诊断输出。
func (w *Whitelist) Names() []string {
	if w == nil {
		return nil
	}
	out := make([]string, 0, len(w.names))
	for name := range w.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
