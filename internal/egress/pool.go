// Package egress 维护出站代理池：轮询选择可用代理，失败后进入冷却期，冷却结束后在选择时惰性恢复。
package egress

import (
	"sync"
	"time"
)

// Outcome 表示一次出站请求对代理健康度的反馈。
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeFailure {
		return "failure"
	}
	return "success"
}

type entry struct {
	desc  Descriptor
	until time.Time // 零值表示 Healthy
}

func (e *entry) eligible(now time.Time) bool {
	return e.until.IsZero() || !now.Before(e.until)
}

// Status 是单个代理在某一时刻的状态快照。
type Status struct {
	ID               string     `json:"id"`
	Proxy            string     `json:"proxy"`
	Scheme           string     `json:"scheme"`
	Available        bool       `json:"available"`
	UnavailableUntil *time.Time `json:"unavailable_until,omitempty"`
}

// Pool 在多个出站代理间轮询，所有方法可并发调用。
type Pool struct {
	mu       sync.Mutex
	entries  []*entry
	index    map[string]int
	cursor   int
	cooldown time.Duration
	now      func() time.Time
}

// PoolOption 调整 Pool 的可选行为。
type PoolOption func(*Pool)

// WithClock 注入时钟，测试中用于推进冷却时间。
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPool 创建代理池；重复 ID 的描述符只保留第一个。
func NewPool(descriptors []Descriptor, cooldown time.Duration, opts ...PoolOption) *Pool {
	p := &Pool{
		index:    make(map[string]int, len(descriptors)),
		cooldown: cooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, d := range descriptors {
		if _, dup := p.index[d.ID]; dup {
			continue
		}
		p.index[d.ID] = len(p.entries)
		p.entries = append(p.entries, &entry{desc: d})
	}
	return p
}

// Len 返回池内代理总数。
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Cooldown 返回失败后的冷却时长。
func (p *Pool) Cooldown() time.Duration {
	if p == nil {
		return 0
	}
	return p.cooldown
}

// Acquire 从游标开始轮询，返回第一个可用代理；冷却已结束的代理在此时恢复为 Healthy。
// 没有可用代理时返回 false，由调用方决定直连还是失败。
func (p *Pool) Acquire() (Descriptor, bool) {
	if p == nil {
		return Descriptor{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	if n == 0 {
		return Descriptor{}, false
	}
	now := p.now()
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		e := p.entries[idx]
		if !e.eligible(now) {
			continue
		}
		e.until = time.Time{}
		p.cursor = (idx + 1) % n
		return e.desc, true
	}
	return Descriptor{}, false
}

// Report 记录一次请求结果：失败进入冷却；成功只清除已到期的不可用状态，
// 冷却期内迟到的成功不会让代理提前回到轮询。未知代理被忽略。
func (p *Pool) Report(d Descriptor, outcome Outcome) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.index[d.ID]
	if !ok {
		return
	}
	e := p.entries[idx]
	now := p.now()
	switch outcome {
	case OutcomeFailure:
		e.until = now.Add(p.cooldown)
	default:
		if e.eligible(now) {
			e.until = time.Time{}
		}
	}
}

// Counts 返回 (可用数量, 总数)。
func (p *Pool) Counts() (available, total int) {
	if p == nil {
		return 0, 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, e := range p.entries {
		if e.eligible(now) {
			available++
		}
	}
	return available, len(p.entries)
}

// Snapshot 输出所有代理的状态，密码已脱敏。
func (p *Pool) Snapshot() []Status {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Status, 0, len(p.entries))
	for _, e := range p.entries {
		st := Status{
			ID:        e.desc.ID,
			Proxy:     e.desc.Redacted(),
			Scheme:    e.desc.Scheme,
			Available: e.eligible(now),
		}
		if !st.Available {
			until := e.until
			st.UnavailableUntil = &until
		}
		out = append(out, st)
	}
	return out
}
