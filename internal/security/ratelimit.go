package security

import (
	"context"
	"sync"
	"time"
)

// SlidingWindowLimiter 内存滑动窗口限流器：按客户端记录窗口内的请求时间戳
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	records map[string][]time.Time
}

func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		limit:   limit,
		window:  window,
		records: make(map[string][]time.Time),
	}
}

// Admit 丢弃 now-t >= window 的记录；剩余数量达到上限则拒绝且不追加。
// 同一把锁内完成读取、过滤、追加。
func (l *SlidingWindowLimiter) Admit(key string, now time.Time) bool {
	if l == nil || l.limit <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.prune(l.records[key], now)
	if len(kept) >= l.limit {
		l.records[key] = kept
		return false
	}

	l.records[key] = append(kept, now)
	return true
}

// Sweep 删除整段窗口都已过期的客户端，返回删除数量
func (l *SlidingWindowLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, stamps := range l.records {
		kept := l.prune(stamps, now)
		if len(kept) == 0 {
			delete(l.records, key)
			removed++
			continue
		}
		l.records[key] = kept
	}
	return removed
}

// StartJanitor 周期性清理空闲客户端，ctx 取消后退出。
func (l *SlidingWindowLimiter) StartJanitor(ctx context.Context, every time.Duration, onSweep func(removed int)) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed := l.Sweep(now)
				if onSweep != nil && removed > 0 {
					onSweep(removed)
				}
			}
		}
	}()
}

// Len 当前跟踪的客户端数量
func (l *SlidingWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *SlidingWindowLimiter) Limit() int            { return l.limit }
func (l *SlidingWindowLimiter) Window() time.Duration { return l.window }

func (l *SlidingWindowLimiter) prune(stamps []time.Time, now time.Time) []time.Time {
	kept := stamps[:0]
	for _, stamp := range stamps {
		if now.Sub(stamp) < l.window {
			kept = append(kept, stamp)
		}
	}
	return kept
}
