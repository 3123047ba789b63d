package server

import (
	"math"
	"strings"
	"sync"

	"swarmrover/config"
	"swarmrover/mobility"
)

// Controller 入站消息的接收方（运动控制节点）
// 所有方法只负责投递，返回 false 表示事件被丢弃
type Controller interface {
	Joystick(linear, angular float64) bool
	SetMode(mode mobility.ControlMode) bool
	Odometry(x, y float64, q mobility.Quaternion) bool
	PoseBroadcast(id mobility.AgentID, p mobility.Pose) bool
	Obstacle(code uint8) bool
	Targets(count int) bool
	Message(text string) bool
}

// Hub 管理所有 WebSocket 连接（操作端 + 其他机器人），实现 mobility.Publisher
type Hub struct {
	self string

	mu      sync.RWMutex
	clients map[*ClientConn]struct{}
	ctrl    Controller
}

// NewHub 创建总线；self 为本机名称，用于拼接私有话题
func NewHub(self mobility.AgentID) *Hub {
	return &Hub{
		self:    string(self),
		clients: make(map[*ClientConn]struct{}),
	}
}

// Attach 绑定入站消息的接收方
func (h *Hub) Attach(ctrl Controller) {
	h.mu.Lock()
	h.ctrl = ctrl
	h.mu.Unlock()
}

func (h *Hub) register(c *ClientConn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *ClientConn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
}

// CloseAll 关闭所有连接（退出时调用）
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*ClientConn]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.Close()
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) topic(name string) string {
	return h.self + "/" + name
}

// broadcast 编码一次（每种编码各一次）后压入所有连接的发送队列
func (h *Hub) broadcast(m Message) {
	h.mu.RLock()
	clients := make([]*ClientConn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}
	frames := map[string]frame{}
	failed := map[string]bool{}
	for _, c := range clients {
		if failed[c.codec] {
			continue
		}
		f, ok := frames[c.codec]
		if !ok {
			var err error
			f, err = encodeMessage(c.codec, m)
			if err != nil {
				// 只跳过这一种编码，其他编码的连接照常发送
				Log.Errorw("encode failed", "topic", m.Topic, "codec", c.codec, "error", err)
				failed[c.codec] = true
				continue
			}
			frames[c.codec] = f
		}
		c.Enqueue(f)
	}
}

// dispatch 将入站消息转换为节点事件；其他机器人的私有话题直接忽略
func (h *Hub) dispatch(m Message) {
	h.mu.RLock()
	ctrl := h.ctrl
	h.mu.RUnlock()
	if ctrl == nil {
		return
	}
	if topic, ok := strings.CutPrefix(m.Topic, h.self+"/"); ok {
		h.dispatchPrivate(ctrl, topic, m)
		return
	}
	switch m.Topic {
	case TopicPose:
		id, p, err := decodePose(m)
		if err != nil {
			Log.Warnw("dropped pose broadcast", "error", err)
			return
		}
		ctrl.PoseBroadcast(id, p)
	case TopicMessages:
		ctrl.Message(m.Text)
	}
}

func (h *Hub) dispatchPrivate(ctrl Controller, topic string, m Message) {
	switch topic {
	case TopicJoystick:
		if m.Twist != nil {
			ctrl.Joystick(m.Twist.Linear, m.Twist.Angular)
		}
	case TopicMode:
		mode, ok := wholeValue(m.Value, 0, math.MaxUint8)
		if !ok {
			Log.Debugw("dropped mode value", "topic", m.Topic, "value", m.Value)
			return
		}
		ctrl.SetMode(mobility.ControlMode(mode))
	case TopicOdometry:
		if m.Odometry != nil {
			ctrl.Odometry(m.Odometry.X, m.Odometry.Y, m.Odometry.Orientation)
		}
	case TopicObstacle:
		code, ok := wholeValue(m.Value, 0, math.MaxUint8)
		if !ok {
			Log.Debugw("dropped obstacle value", "topic", m.Topic, "value", m.Value)
			return
		}
		ctrl.Obstacle(uint8(code))
	case TopicTargets:
		var n int
		if m.Value != nil {
			var ok bool
			if n, ok = wholeValue(m.Value, 0, math.MaxInt32); !ok {
				Log.Debugw("dropped targets value", "topic", m.Topic, "value", m.Value)
				return
			}
		}
		ctrl.Targets(n)
	default:
		Log.Debugw("ignored topic", "topic", m.Topic)
	}
}

// ---- mobility.Publisher ----

func (h *Hub) PublishVelocity(v mobility.Velocity) {
	h.broadcast(Message{Topic: h.topic(TopicVelocity), Twist: &Twist{Linear: v.Linear, Angular: v.Angular}})
}

func (h *Hub) PublishMotionStatus(text string) {
	h.broadcast(Message{Topic: h.topic(TopicStateMachine), Text: text})
}

func (h *Hub) PublishStatus(text string) {
	h.broadcast(Message{Topic: h.topic(TopicStatus), Text: text})
}

func (h *Hub) PublishMessage(text string) {
	h.broadcast(Message{Topic: TopicMessages, Text: text})
}

func (h *Hub) PublishPose(id mobility.AgentID, p mobility.Pose) {
	h.broadcast(Message{
		Topic: TopicPose,
		Text:  FormatPoseText(id, p),
		Pose:  &AgentPose{Name: string(id), X: p.X, Y: p.Y, Theta: p.Heading},
	})
}

func (h *Hub) PublishHeadings(hd mobility.Heading) {
	h.broadcast(Message{Topic: h.topic(TopicGlobalHeading), Value: valuePtr(hd.Global)})
	h.broadcast(Message{Topic: h.topic(TopicLocalHeading), Value: valuePtr(hd.Local)})
	h.broadcast(Message{Topic: h.topic(TopicAngular), Value: valuePtr(hd.Alignment)})
}

func (h *Hub) PublishTargetsCollected(n int) {
	h.broadcast(Message{Topic: TopicTargetsCollected, Value: valuePtr(float64(n))})
}

var _ mobility.Publisher = (*Hub)(nil)

// normalizeCodec 未知编码退回 json
func normalizeCodec(codec string) string {
	if strings.EqualFold(strings.TrimSpace(codec), config.CodecCBOR) {
		return config.CodecCBOR
	}
	return config.CodecJSON
}
