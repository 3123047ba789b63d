package mobility

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Publisher 出站消息的发送端（由传输层实现）
// 所有方法必须非阻塞：发不出去就丢弃，不能拖慢循环
type Publisher interface {
	PublishVelocity(v Velocity)
	PublishMotionStatus(text string)
	PublishStatus(text string)
	PublishMessage(text string)
	PublishPose(id AgentID, p Pose)
	PublishHeadings(h Heading)
	PublishTargetsCollected(n int)
}

// Settings 节点运行参数
type Settings struct {
	LinearSpeed     float64
	Consensus       ConsensusParams
	Calibration     Calibration
	AutonomousModes []ControlMode

	LoopPeriod      time.Duration
	StatusInterval  time.Duration
	WatchdogTimeout time.Duration
	WatchdogCheck   time.Duration
}

// Node 单个机器人的运动控制上下文
// 所有状态只在 Run 的循环线程中读写，外部通过事件队列投递
type Node struct {
	settings Settings
	roster   *Roster
	pub      Publisher
	log      *zap.SugaredLogger
	now      func() time.Time
	metrics  *NodeMetrics

	events chan func(*Node)

	mode       ControlMode
	state      MotionState
	heading    Heading
	correction float64
	watchdog   *Watchdog
	announced  bool

	// 自主模式进入记录（仅遥测）
	inAuto          bool
	firstAutoAt     time.Time
	lastAutoAt      time.Time
	autoTransitions int
}

// Option 定制 Node 构造
type Option func(*Node)

// WithLogger 注入日志；默认不输出
func WithLogger(l *zap.SugaredLogger) Option {
	return func(n *Node) {
		if l != nil {
			n.log = l
		}
	}
}

// WithClock 测试中控制时间
func WithClock(now func() time.Time) Option {
	return func(n *Node) {
		if now != nil {
			n.now = now
		}
	}
}

// WithQueueSize 入站事件队列容量
func WithQueueSize(size int) Option {
	return func(n *Node) {
		if size > 0 {
			n.events = make(chan func(*Node), size)
		}
	}
}

// NewNode 创建节点；看门狗从创建时刻开始计时
func NewNode(settings Settings, roster *Roster, pub Publisher, opts ...Option) *Node {
	n := &Node{
		settings: settings,
		roster:   roster,
		pub:      pub,
		log:      zap.NewNop().Sugar(),
		now:      time.Now,
		metrics:  &NodeMetrics{},
		events:   make(chan func(*Node), 256), // 足够缓冲，避免网络读阻塞影响 Tick
		mode:     ModeManualDirect,
		state:    StateTranslate,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	n.log = n.log.With("agent", string(roster.Self()))
	n.watchdog = NewWatchdog(settings.WatchdogTimeout, n.now())
	return n
}

// Name 本机身份
func (n *Node) Name() AgentID { return n.roster.Self() }

// Metrics 运行指标
func (n *Node) Metrics() *NodeMetrics { return n.metrics }

func (n *Node) isAutonomous() bool {
	for _, m := range n.settings.AutonomousModes {
		if m == n.mode {
			return true
		}
	}
	return false
}

// setVelocity 所有速度下发的唯一出口：重置看门狗 → 标定 → 发布
func (n *Node) setVelocity(linear, angular float64) {
	n.watchdog.Reset(n.now())
	v := n.settings.Calibration.apply(linear, angular)
	n.metrics.IncVelocity()
	n.pub.PublishVelocity(v)
}

// tick 状态机一步：自主模式下按当前状态下发速度，否则仅发布等待状态
func (n *Node) tick() {
	var status string
	if n.isAutonomous() {
		if !n.inAuto {
			now := n.now()
			n.inAuto = true
			n.autoTransitions++
			n.lastAutoAt = now
			if n.firstAutoAt.IsZero() {
				n.firstAutoAt = now
			}
		}
		switch n.state {
		case StateTranslate:
			status = StatusTranslating
			n.setVelocity(n.settings.LinearSpeed, n.correction)
		default:
			status = StatusBadState
			n.metrics.IncUnreachable()
			n.log.Errorw("state machine fault, stopping",
				"error", fmt.Errorf("%w: %s", ErrUnreachableState, n.state))
			n.setVelocity(0, 0)
		}
	} else {
		status = fmt.Sprintf(StatusWaitingFmt, int(n.mode))
	}
	n.pub.PublishMotionStatus(status)
}

// checkWatchdog 截止时间已过则停车并记录一次
func (n *Node) checkWatchdog() {
	now := n.now()
	if !n.watchdog.Expired(now) {
		return
	}
	n.setVelocity(0, 0)
	n.watchdog.markFired()
	n.metrics.IncWatchdog()
	n.log.Warnw("movement input timeout, stopping the rover",
		"at", now.Format(time.RFC3339Nano), "timeout", n.watchdog.Timeout())
}

// heartbeat 周期在线状态；首次额外在共享频道宣告身份
func (n *Node) heartbeat() {
	if !n.announced {
		n.pub.PublishMessage("I " + string(n.roster.Self()))
		n.announced = true
		n.log.Infow("announced identity")
	}
	n.pub.PublishStatus("online")
}

func (n *Node) handleMode(mode ControlMode) {
	prev := n.mode
	n.mode = mode
	if !n.isAutonomous() {
		n.inAuto = false
	}
	n.setVelocity(0, 0)
	n.log.Infow("control mode changed", "from", int(prev), "to", int(mode), "autonomous", n.isAutonomous())
}

func (n *Node) handleJoystick(linear, angular float64) {
	if n.isAutonomous() {
		return
	}
	n.setVelocity(linear, angular)
}

// handleOdometry 本机定位更新：写入自身槽位 → 对外广播 → 重算共识
func (n *Node) handleOdometry(x, y float64, q Quaternion) {
	p := Pose{X: x, Y: y, Heading: q.Yaw()}
	n.roster.UpdateSelf(p)
	n.metrics.IncPoseUpdates()
	n.pub.PublishPose(n.roster.Self(), p)
	n.recompute()
}

// handlePoseBroadcast 其他机器人的位姿广播；自身的回显忽略
func (n *Node) handlePoseBroadcast(id AgentID, p Pose) error {
	if id == n.roster.Self() {
		return nil
	}
	if err := n.roster.UpdateOther(id, p); err != nil {
		n.metrics.IncUnknownAgent()
		n.log.Warnw("rejected pose broadcast", "from", string(id), "error", err)
		return err
	}
	n.metrics.IncPoseUpdates()
	n.recompute()
	return nil
}

func (n *Node) recompute() {
	h := ComputeHeading(n.roster.Snapshot(), n.settings.Consensus)
	n.heading = h
	n.correction = h.Correction
	n.pub.PublishHeadings(h)
}

func (n *Node) handleObstacle(code uint8) {
	switch {
	case code == 0:
	case code == 1:
		n.log.Debugw("obstacle on right side")
	default:
		n.log.Debugw("obstacle in front or on left side", "code", code)
	}
}

func (n *Node) handleTargets(count int) {
	n.log.Debugw("targets seen", "count", count)
}

func (n *Node) handleMessage(text string) {
	n.log.Debugw("swarm message", "text", text)
}
