package mobility

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ConsensusParams 航向共识参数
type ConsensusParams struct {
	Radius float64 // 邻居距离阈值（严格小于）
	Gain   float64 // Kp
}

// Heading 一次共识计算的全部输出
type Heading struct {
	Global    float64   // 全体（含自身）航向向量平均
	Local     float64   // 邻居航向向量平均；无邻居时为 0
	Offset    orb.Point // 邻居质心相对自身的平均偏移；无邻居时为自身坐标
	Target    orb.Point // 自身 + 偏移
	TargetDir float64   // atan2(Target.Y, Target.X)

	Correction float64 // Kp*(TargetDir - θ)，供状态机使用
	Alignment  float64 // Kp*(Local - θ)，仅遥测

	Neighbors  int
	Degenerate bool // 邻居集合为空
}

// ComputeHeading 根据花名册快照计算全局/局部航向与转向修正
func ComputeHeading(s RosterSnapshot, p ConsensusParams) Heading {
	self := s.Poses[s.Self]
	here := self.Point()

	var gx, gy, lx, ly, ox, oy float64
	k := 0
	for j, other := range s.Poses {
		gx += math.Cos(other.Heading)
		gy += math.Sin(other.Heading)
		if j == s.Self {
			continue
		}
		if planar.Distance(here, other.Point()) < p.Radius {
			k++
			lx += math.Cos(other.Heading)
			ly += math.Sin(other.Heading)
			ox += other.X - self.X
			oy += other.Y - self.Y
		}
	}

	h := Heading{
		Global:    safeAtan2(gy, gx),
		Neighbors: k,
	}
	if k == 0 {
		h.Degenerate = true
		h.Offset = here
		h.Target = here
	} else {
		h.Local = safeAtan2(ly, lx)
		h.Offset = orb.Point{ox / float64(k), oy / float64(k)}
		h.Target = orb.Point{self.X + h.Offset[0], self.Y + h.Offset[1]}
	}
	// 目标方向取自绝对坐标点而非相对偏移，沿用现场部署的行为
	h.TargetDir = safeAtan2(h.Target[1], h.Target[0])

	h.Correction = p.Gain * (h.TargetDir - self.Heading)
	h.Alignment = p.Gain * (h.Local - self.Heading)
	return h
}

// safeAtan2 零向量视为“无修正”，返回 0
func safeAtan2(y, x float64) float64 {
	if y == 0 && x == 0 {
		return 0
	}
	return math.Atan2(y, x)
}
