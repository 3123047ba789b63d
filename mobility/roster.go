package mobility

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAgent 位姿更新的身份不在配置的花名册中
var ErrUnknownAgent = errors.New("mobility: unknown agent")

// Roster 固定容量的身份 → 最新位姿表
// 槽位在启动时由配置确定，进程生命周期内不会增减；
// 仅由 Node 的单线程循环读写，因此不加锁
type Roster struct {
	self  int
	names []AgentID
	slots map[AgentID]int
	poses []Pose
}

// NewRoster 按顺序为每个身份分配槽位，所有槽位初始化为零位姿
func NewRoster(names []string, self string) (*Roster, error) {
	if len(names) == 0 {
		return nil, errors.New("mobility: empty roster")
	}
	r := &Roster{
		self:  -1,
		names: make([]AgentID, 0, len(names)),
		slots: make(map[AgentID]int, len(names)),
		poses: make([]Pose, len(names)),
	}
	for i, n := range names {
		id := AgentID(strings.TrimSpace(n))
		if id == "" {
			return nil, fmt.Errorf("mobility: roster slot %d has empty name", i)
		}
		if _, dup := r.slots[id]; dup {
			return nil, fmt.Errorf("mobility: duplicate roster name %q", id)
		}
		r.slots[id] = i
		r.names = append(r.names, id)
	}
	idx, ok := r.slots[AgentID(strings.TrimSpace(self))]
	if !ok {
		return nil, fmt.Errorf("%w: self %q", ErrUnknownAgent, self)
	}
	r.self = idx
	return r, nil
}

// Len 花名册容量
func (r *Roster) Len() int { return len(r.poses) }

// Self 本机身份
func (r *Roster) Self() AgentID { return r.names[r.self] }

// SelfIndex 本机槽位
func (r *Roster) SelfIndex() int { return r.self }

// Names 按槽位顺序返回身份列表（副本）
func (r *Roster) Names() []AgentID {
	out := make([]AgentID, len(r.names))
	copy(out, r.names)
	return out
}

// Slot 解析身份对应的槽位
func (r *Roster) Slot(id AgentID) (int, error) {
	idx, ok := r.slots[id]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return idx, nil
}

// UpdateSelf 覆盖本机槽位
func (r *Roster) UpdateSelf(p Pose) {
	r.poses[r.self] = p
}

// UpdateOther 覆盖指定身份的槽位；未知身份返回 ErrUnknownAgent 且不修改任何槽位
func (r *Roster) UpdateOther(id AgentID, p Pose) error {
	idx, err := r.Slot(id)
	if err != nil {
		return err
	}
	r.poses[idx] = p
	return nil
}

// Pose 读取某身份的当前位姿
func (r *Roster) Pose(id AgentID) (Pose, error) {
	idx, err := r.Slot(id)
	if err != nil {
		return Pose{}, err
	}
	return r.poses[idx], nil
}

// Snapshot 返回全部槽位的只读副本，供共识计算使用
func (r *Roster) Snapshot() RosterSnapshot {
	poses := make([]Pose, len(r.poses))
	copy(poses, r.poses)
	return RosterSnapshot{Self: r.self, Poses: poses}
}

// RosterSnapshot 某一时刻的花名册副本
type RosterSnapshot struct {
	Self  int
	Poses []Pose
}
