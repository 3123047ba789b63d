package mobility

import (
	"sync/atomic"
)

// NodeMetrics 记录节点运行期的关键指标（用于监控与调试）
// 由循环线程写入、HTTP 线程读取，因此使用原子操作
type NodeMetrics struct {
	TickCount        int64 // 状态机 Tick 次数
	VelocityCommands int64 // 下发的速度指令数（含零速度）
	WatchdogFires    int64 // 看门狗超时停车次数
	PoseUpdates      int64 // 花名册更新次数（自身 + 他人）
	UnknownAgents    int64 // 因身份不在花名册而拒绝的广播
	EventsDropped    int64 // 因事件队列满被丢弃的入站事件
	UnreachableState int64 // 状态机进入未定义状态的次数
	TotalTickNs      int64 // Tick 累计耗时（纳秒）
}

func (m *NodeMetrics) IncVelocity() { atomic.AddInt64(&m.VelocityCommands, 1) }
func (m *NodeMetrics) IncWatchdog() { atomic.AddInt64(&m.WatchdogFires, 1) }
func (m *NodeMetrics) IncPoseUpdates() { atomic.AddInt64(&m.PoseUpdates, 1) }
func (m *NodeMetrics) IncUnknownAgent() { atomic.AddInt64(&m.UnknownAgents, 1) }
func (m *NodeMetrics) IncDropped() { atomic.AddInt64(&m.EventsDropped, 1) }
func (m *NodeMetrics) IncUnreachable() { atomic.AddInt64(&m.UnreachableState, 1) }
func (m *NodeMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *NodeMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":        tick,
		"velocity_commands": atomic.LoadInt64(&m.VelocityCommands),
		"watchdog_fires":    atomic.LoadInt64(&m.WatchdogFires),
		"pose_updates":      atomic.LoadInt64(&m.PoseUpdates),
		"unknown_agents":    atomic.LoadInt64(&m.UnknownAgents),
		"events_dropped":    atomic.LoadInt64(&m.EventsDropped),
		"unreachable_state": atomic.LoadInt64(&m.UnreachableState),
		"avg_tick_ms":       avgMs,
	}
}
