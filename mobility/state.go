package mobility

import (
	"errors"
	"fmt"
)

// ErrUnreachableState 状态机进入了未定义的状态
var ErrUnreachableState = errors.New("mobility: unreachable motion state")

// ControlMode 外部下发的控制模式代码
// 0/1 为手动（直接/辅助），2/3 为自主（编队/其他）
type ControlMode int

const (
	ModeManualDirect ControlMode = iota
	ModeManualSecondary
	ModeAutoFlocking
	ModeAutoOther
)

// MotionState 运动状态机状态；目前只有 Translate，枚举保持开放
type MotionState int

const (
	StateTranslate MotionState = iota
)

func (s MotionState) String() string {
	switch s {
	case StateTranslate:
		return "TRANSLATE"
	default:
		return fmt.Sprintf("MotionState(%d)", int(s))
	}
}

// 状态机对外发布的状态文本
const (
	StatusTranslating = "TRANSLATING"
	StatusWaitingFmt  = "WAITING, CURRENT MODE: %d"
	StatusBadState    = "DEFAULT CASE: SOMETHING WRONG!!!!"
)

// Velocity 线速度 + 角速度（已乘标定系数后对外发布）
type Velocity struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// Calibration 执行器标定系数，与算法无关
type Calibration struct {
	LinearScale  float64
	AngularScale float64
}

func (c Calibration) apply(linear, angular float64) Velocity {
	return Velocity{Linear: linear * c.LinearScale, Angular: angular * c.AngularScale}
}
