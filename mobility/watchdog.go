package mobility

import "time"

// Watchdog 电平触发的截止时间看门狗
// 每次下发速度都把截止时间推到 now+timeout；周期检查发现已过期则触发一次。
// 触发方随后下发零速度，会再次重置截止时间，所以每次过期只触发一次
type Watchdog struct {
	timeout  time.Duration
	deadline time.Time
	fires    int64
}

// NewWatchdog 以 now 为起点创建看门狗
func NewWatchdog(timeout time.Duration, now time.Time) *Watchdog {
	return &Watchdog{timeout: timeout, deadline: now.Add(timeout)}
}

// Reset 刷新截止时间
func (w *Watchdog) Reset(now time.Time) {
	w.deadline = now.Add(w.timeout)
}

// Expired 截止时间是否已过（含恰好到达）
func (w *Watchdog) Expired(now time.Time) bool {
	return !now.Before(w.deadline)
}

// Deadline 当前截止时间
func (w *Watchdog) Deadline() time.Time { return w.deadline }

// Timeout 超时窗口
func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// SetTimeout 调整超时窗口，从 now 重新计时
func (w *Watchdog) SetTimeout(d time.Duration, now time.Time) {
	w.timeout = d
	w.Reset(now)
}

// Fires 累计触发次数
func (w *Watchdog) Fires() int64 { return w.fires }

func (w *Watchdog) markFired() { w.fires++ }
