package cache

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// ErrFetchPanic 表示抓取函数发生 panic，已被转换为普通错误以释放等待者。
var ErrFetchPanic = errors.New("cache fetch panicked")

// flight 封装 singleflight.DoChan：同一 key 只执行一次 fn，调用方在自身 ctx 结束时可提前离开，
// 但不会影响正在进行的抓取。owner 表示本次调用是否亲自执行了 fn。
// onFailure 在 fn 所在 goroutine 中、结果发布前调用，发起者提前离开时失败同样会被记录。
func flight(ctx context.Context, group *singleflight.Group, key string, fn func() (interface{}, error), onFailure func()) (val interface{}, owner bool, err error) {
	launched := false
	ch := group.DoChan(key, func() (v interface{}, err error) {
		launched = true
		defer func() {
			if r := recover(); r != nil {
				v = nil
				err = fmt.Errorf("%w: %v", ErrFetchPanic, r)
			}
			if err != nil && onFailure != nil {
				onFailure()
			}
		}()
		return fn()
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		// launched 在 fn 所在 goroutine 写入，channel 接收保证可见性。
		return res.Val, launched, res.Err
	}
}
