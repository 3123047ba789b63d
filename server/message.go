package server

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"swarmrover/mobility"
)

// 每台机器人的私有话题（实际话题名为 "<name>/<topic>"）
const (
	TopicJoystick      = "joystick"
	TopicMode          = "mode"
	TopicTargets       = "targets"
	TopicObstacle      = "obstacle"
	TopicOdometry      = "odom/ekf"
	TopicVelocity      = "velocity"
	TopicStateMachine  = "state_machine"
	TopicStatus        = "status"
	TopicAngular       = "angular"
	TopicGlobalHeading = "global_average_heading"
	TopicLocalHeading  = "local_averaging_heading"
)

// 全体共享话题
const (
	TopicMessages         = "messages"
	TopicPose             = "pose"
	TopicTargetsCollected = "targetsCollected"
)

// ErrBadPose 位姿广播无法解析
var ErrBadPose = errors.New("server: malformed pose broadcast")

// Message 总线上的消息信封（JSON 文本帧或 CBOR 二进制帧）
// 示例：{"topic":"ajax/joystick","twist":{"linear":0.2,"angular":0}}
type Message struct {
	Topic    string     `json:"topic"`
	Text     string     `json:"text,omitempty"`
	Value    *float64   `json:"value,omitempty"`
	Twist    *Twist     `json:"twist,omitempty"`
	Odometry *Odometry  `json:"odom,omitempty"`
	Pose     *AgentPose `json:"pose,omitempty"`
}

// Twist 速度指令
type Twist struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// Odometry 定位模块输出：位置 + 朝向四元数
type Odometry struct {
	X           float64             `json:"x"`
	Y           float64             `json:"y"`
	Orientation mobility.Quaternion `json:"orientation"`
}

// AgentPose 结构化的位姿广播
type AgentPose struct {
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

func valuePtr(v float64) *float64 { return &v }

// FormatPoseText 文本格式位姿广播："<name>, <x>, <y>, <theta>"
func FormatPoseText(id mobility.AgentID, p mobility.Pose) string {
	return fmt.Sprintf("%s, %s, %s, %s", id,
		strconv.FormatFloat(p.X, 'g', -1, 64),
		strconv.FormatFloat(p.Y, 'g', -1, 64),
		strconv.FormatFloat(p.Heading, 'g', -1, 64))
}

// ParsePoseText 解析文本格式位姿广播
func ParsePoseText(s string) (mobility.AgentID, mobility.Pose, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return "", mobility.Pose{}, fmt.Errorf("%w: want 4 fields, got %d", ErrBadPose, len(parts))
	}
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return "", mobility.Pose{}, fmt.Errorf("%w: empty name", ErrBadPose)
	}
	var vals [3]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i+1]), 64)
		if err != nil {
			return "", mobility.Pose{}, fmt.Errorf("%w: field %d: %v", ErrBadPose, i+1, err)
		}
		vals[i] = v
	}
	p := mobility.Pose{X: vals[0], Y: vals[1], Heading: vals[2]}
	if err := checkFinite(p); err != nil {
		return "", mobility.Pose{}, err
	}
	return mobility.AgentID(name), p, nil
}

// checkFinite NaN/Inf 会污染之后所有的航向计算，直接拒绝
func checkFinite(p mobility.Pose) error {
	for i, v := range [3]float64{p.X, p.Y, p.Heading} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: field %d is not finite", ErrBadPose, i+1)
		}
	}
	return nil
}

// wholeValue 数值话题转为整数；非有限、带小数或超出 [lo, hi] 时返回 false
func wholeValue(v *float64, lo, hi int) (int, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v != math.Trunc(*v) {
		return 0, false
	}
	if *v < float64(lo) || *v > float64(hi) {
		return 0, false
	}
	return int(*v), true
}

// decodePose 优先使用结构化字段，否则解析文本
func decodePose(m Message) (mobility.AgentID, mobility.Pose, error) {
	if m.Pose != nil {
		if strings.TrimSpace(m.Pose.Name) == "" {
			return "", mobility.Pose{}, fmt.Errorf("%w: empty name", ErrBadPose)
		}
		p := mobility.Pose{X: m.Pose.X, Y: m.Pose.Y, Heading: m.Pose.Theta}
		if err := checkFinite(p); err != nil {
			return "", mobility.Pose{}, err
		}
		return mobility.AgentID(strings.TrimSpace(m.Pose.Name)), p, nil
	}
	return ParsePoseText(m.Text)
}
