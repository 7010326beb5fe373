package upstream

import (
	"context"
	"math/rand"
	"time"
)

// Backoff 计算重试间隔：Initial * 2^attempt，上限 Max，并叠加最多 Jitter 比例的随机抖动。
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// Delay 返回第 attempt 次重试（从 0 开始）前的等待时间。
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	max := b.Max
	if max < b.Initial {
		max = b.Initial
	}

	delay := b.Initial << uint(attempt)
	if delay <= 0 || delay > max {
		delay = max
	}

	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	if jitter > 0 {
		extra := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+extra > max {
			delay = max
		} else {
			delay += extra
		}
	}
	return delay
}

// sleep 等待 d 或 ctx 结束，以先到者为准。
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
