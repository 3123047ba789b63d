package mobility

import (
	"context"
	"errors"
	"time"
)

// ErrQueueFull 事件队列已满，请求被丢弃
var ErrQueueFull = errors.New("mobility: event queue full")

// Run 启动节点循环（单线程推进），直到 ctx 取消
// 定时器与入站事件在同一个 select 中串行处理，每个处理函数执行完才处理下一个
func (n *Node) Run(ctx context.Context) error {
	loop := time.NewTicker(n.settings.LoopPeriod)
	defer loop.Stop()
	watchdog := time.NewTicker(n.settings.WatchdogCheck)
	defer watchdog.Stop()
	status := time.NewTicker(n.settings.StatusInterval)
	defer status.Stop()

	n.log.Infow("mobility loop started",
		"loop", n.settings.LoopPeriod, "watchdog", n.settings.WatchdogTimeout, "roster", n.roster.Len())
	n.pub.PublishTargetsCollected(0)

	for {
		select {
		case <-ctx.Done():
			n.log.Infow("mobility loop stopped")
			return nil
		case fn := <-n.events:
			fn(n)
		case <-loop.C:
			start := time.Now()
			n.tick()
			n.metrics.AddTick(time.Since(start).Nanoseconds())
		case <-watchdog.C:
			n.checkWatchdog()
		case <-status.C:
			n.heartbeat()
		}
	}
}

// submit 投递事件（不阻塞）；队列满时丢弃并计数
func (n *Node) submit(fn func(*Node)) bool {
	select {
	case n.events <- fn:
		return true
	default:
		n.metrics.IncDropped()
		return false
	}
}

// Joystick 手动速度指令
func (n *Node) Joystick(linear, angular float64) bool {
	return n.submit(func(n *Node) { n.handleJoystick(linear, angular) })
}

// SetMode 切换控制模式（总是先停车）
func (n *Node) SetMode(mode ControlMode) bool {
	return n.submit(func(n *Node) { n.handleMode(mode) })
}

// Odometry 本机定位输入
func (n *Node) Odometry(x, y float64, q Quaternion) bool {
	return n.submit(func(n *Node) { n.handleOdometry(x, y, q) })
}

// PoseBroadcast 其他机器人的位姿广播
func (n *Node) PoseBroadcast(id AgentID, p Pose) bool {
	return n.submit(func(n *Node) { _ = n.handlePoseBroadcast(id, p) })
}

// Obstacle 障碍物通知（目前不产生行为）
func (n *Node) Obstacle(code uint8) bool {
	return n.submit(func(n *Node) { n.handleObstacle(code) })
}

// Targets 目标检测通知（目前不产生行为）
func (n *Node) Targets(count int) bool {
	return n.submit(func(n *Node) { n.handleTargets(count) })
}

// Message 共享频道上的其他文本消息
func (n *Node) Message(text string) bool {
	return n.submit(func(n *Node) { n.handleMessage(text) })
}

// Tunables 运行时可调参数
type Tunables struct {
	LinearSpeed    float64 `json:"linearSpeed"`
	Gain           float64 `json:"gain"`
	NeighborRadius float64 `json:"neighborRadius"`
}

// TunablesPatch 部分更新；nil 字段保持不变
type TunablesPatch struct {
	LinearSpeed    *float64 `json:"linearSpeed,omitempty"`
	Gain           *float64 `json:"gain,omitempty"`
	NeighborRadius *float64 `json:"neighborRadius,omitempty"`
}

// Status 节点状态快照
type Status struct {
	Name            AgentID   `json:"name"`
	Mode            int       `json:"mode"`
	Autonomous      bool      `json:"autonomous"`
	State           string    `json:"state"`
	Correction      float64   `json:"correction"`
	GlobalHeading   float64   `json:"globalHeading"`
	LocalHeading    float64   `json:"localHeading"`
	Neighbors       int       `json:"neighbors"`
	WatchdogDue     time.Time `json:"watchdogDue"`
	AutoTransitions int       `json:"autoTransitions"`
	FirstAutoAt     time.Time `json:"firstAutoAt,omitempty"`
	Tunables        Tunables  `json:"tunables"`
}

func (n *Node) tunables() Tunables {
	return Tunables{
		LinearSpeed:    n.settings.LinearSpeed,
		Gain:           n.settings.Consensus.Gain,
		NeighborRadius: n.settings.Consensus.Radius,
	}
}

func (n *Node) applyTunables(p TunablesPatch) Tunables {
	if p.LinearSpeed != nil {
		n.settings.LinearSpeed = *p.LinearSpeed
	}
	if p.Gain != nil {
		n.settings.Consensus.Gain = *p.Gain
	}
	if p.NeighborRadius != nil && *p.NeighborRadius > 0 {
		n.settings.Consensus.Radius = *p.NeighborRadius
	}
	n.recompute()
	t := n.tunables()
	n.log.Infow("tunables updated", "linearSpeed", t.LinearSpeed, "gain", t.Gain, "radius", t.NeighborRadius)
	return t
}

func (n *Node) status() Status {
	return Status{
		Name:            n.roster.Self(),
		Mode:            int(n.mode),
		Autonomous:      n.isAutonomous(),
		State:           n.state.String(),
		Correction:      n.correction,
		GlobalHeading:   n.heading.Global,
		LocalHeading:    n.heading.Local,
		Neighbors:       n.heading.Neighbors,
		WatchdogDue:     n.watchdog.Deadline(),
		AutoTransitions: n.autoTransitions,
		FirstAutoAt:     n.firstAutoAt,
		Tunables:        n.tunables(),
	}
}

// UpdateTunables 在循环线程中应用参数修改，并返回修改后的值
func (n *Node) UpdateTunables(ctx context.Context, p TunablesPatch) (Tunables, error) {
	return call(ctx, n, func(n *Node) Tunables { return n.applyTunables(p) })
}

// Snapshot 在循环线程中读取状态快照
func (n *Node) Snapshot(ctx context.Context) (Status, error) {
	return call(ctx, n, func(n *Node) Status { return n.status() })
}

// call 请求-应答：把读取/修改放进事件队列，保证与处理函数串行
func call[T any](ctx context.Context, n *Node, fn func(*Node) T) (T, error) {
	var zero T
	reply := make(chan T, 1)
	if !n.submit(func(n *Node) { reply <- fn(n) }) {
		return zero, ErrQueueFull
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
