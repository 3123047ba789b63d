package mobility

import (
	"math"

	"github.com/paulmach/orb"
)

// AgentID 表示蜂群中某个机器人的唯一名称
type AgentID string

// Pose 二维位姿快照：位置 + 航向（弧度）
// 存入花名册后不可变，同一身份的下一次更新整体覆盖
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"theta"`
}

// Point 返回位姿的平面坐标
func (p Pose) Point() orb.Point {
	return orb.Point{p.X, p.Y}
}

// Quaternion 里程计给出的朝向四元数
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Yaw 标准四元数转偏航角（绕 Z 轴），与 roll/pitch 分解中的 yaw 一致
func (q Quaternion) Yaw() float64 {
	sinyCosp := 2 * (q.W*q.Z + q.X*q.Y)
	cosyCosp := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	return math.Atan2(sinyCosp, cosyCosp)
}

// QuaternionFromYaw 构造只绕 Z 轴旋转的四元数（测试与模拟器使用）
func QuaternionFromYaw(yaw float64) Quaternion {
	return Quaternion{Z: math.Sin(yaw / 2), W: math.Cos(yaw / 2)}
}
