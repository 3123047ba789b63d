package mobility

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu         sync.Mutex
	velocities []Velocity
	motion     []string
	status     []string
	messages   []string
	poses      []Pose
	headings   []Heading
	collected  []int
}

func (r *recorder) PublishVelocity(v Velocity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.velocities = append(r.velocities, v)
}

func (r *recorder) PublishMotionStatus(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.motion = append(r.motion, text)
}

func (r *recorder) PublishStatus(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, text)
}

func (r *recorder) PublishMessage(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
}

func (r *recorder) PublishPose(id AgentID, p Pose) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.poses = append(r.poses, p)
}

func (r *recorder) PublishHeadings(h Heading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headings = append(r.headings, h)
}

func (r *recorder) PublishTargetsCollected(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collected = append(r.collected, n)
}

func (r *recorder) lastVelocity() (Velocity, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.velocities) == 0 {
		return Velocity{}, 0
	}
	return r.velocities[len(r.velocities)-1], len(r.velocities)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testSettings() Settings {
	return Settings{
		LinearSpeed:     0.05,
		Consensus:       ConsensusParams{Radius: 2, Gain: 1},
		Calibration:     Calibration{LinearScale: 1.5, AngularScale: 8},
		AutonomousModes: []ControlMode{ModeAutoFlocking, ModeAutoOther},
		LoopPeriod:      100 * time.Millisecond,
		StatusInterval:  5 * time.Second,
		WatchdogTimeout: 10 * time.Second,
		WatchdogCheck:   time.Second,
	}
}

func newTestNode(t *testing.T) (*Node, *recorder, *fakeClock, *observer.ObservedLogs) {
	t.Helper()
	roster, err := NewRoster([]string{"ajax", "aeneas", "achilles"}, "ajax")
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	n := NewNode(testSettings(), roster, rec, WithLogger(zap.New(core).Sugar()), WithClock(clock.now))
	return n, rec, clock, logs
}

func TestSetVelocityAppliesCalibrationAndResetsWatchdog(t *testing.T) {
	n, rec, clock, _ := newTestNode(t)
	clock.advance(7 * time.Second)
	n.setVelocity(0.2, -0.5)

	v, count := rec.lastVelocity()
	if count != 1 {
		t.Fatalf("expected one velocity command, got %d", count)
	}
	if !near(v.Linear, 0.3) || !near(v.Angular, -4) {
		t.Fatalf("calibrated velocity = %+v, want {0.3 -4}", v)
	}
	if want := clock.t.Add(10 * time.Second); !n.watchdog.Deadline().Equal(want) {
		t.Fatalf("deadline = %v, want %v", n.watchdog.Deadline(), want)
	}
}

func TestWatchdogFiresOncePerExpiry(t *testing.T) {
	n, rec, clock, logs := newTestNode(t)
	timeouts := func() int { return logs.FilterMessage("movement input timeout, stopping the rover").Len() }

	clock.advance(9 * time.Second)
	n.checkWatchdog()
	if _, count := rec.lastVelocity(); count != 0 || timeouts() != 0 {
		t.Fatalf("watchdog fired early")
	}

	clock.advance(time.Second)
	n.checkWatchdog()
	v, count := rec.lastVelocity()
	if count != 1 || v != (Velocity{}) {
		t.Fatalf("expected a single zero velocity, got %d commands, last %+v", count, v)
	}
	if timeouts() != 1 {
		t.Fatalf("expected one timeout log, got %d", timeouts())
	}

	// 同一次过期不会重复触发
	for i := 0; i < 5; i++ {
		clock.advance(time.Second)
		n.checkWatchdog()
	}
	if timeouts() != 1 {
		t.Fatalf("expected still one timeout log, got %d", timeouts())
	}

	// 再静默一个完整窗口才会再次触发
	clock.advance(5 * time.Second)
	n.checkWatchdog()
	if timeouts() != 2 || n.watchdog.Fires() != 2 {
		t.Fatalf("expected second expiry, logs=%d fires=%d", timeouts(), n.watchdog.Fires())
	}
	if got := n.Metrics().Snapshot()["watchdog_fires"]; got != int64(2) {
		t.Fatalf("watchdog_fires metric = %v", got)
	}
}

func TestWatchdogHeldOffByCommands(t *testing.T) {
	n, _, clock, logs := newTestNode(t)
	for i := 0; i < 30; i++ {
		clock.advance(time.Second)
		n.handleJoystick(0.1, 0)
		n.checkWatchdog()
	}
	if n.watchdog.Fires() != 0 || logs.FilterMessage("movement input timeout, stopping the rover").Len() != 0 {
		t.Fatalf("watchdog fired while commands were flowing")
	}
}

func TestModeChangeAlwaysStops(t *testing.T) {
	n, rec, _, _ := newTestNode(t)
	modes := []ControlMode{ModeManualDirect, ModeAutoFlocking, ModeManualSecondary, ModeAutoOther, 7}
	for i, m := range modes {
		n.handleJoystick(0.4, 0.4) // 自主模式下会被忽略
		n.handleMode(m)
		v, _ := rec.lastVelocity()
		if v != (Velocity{}) {
			t.Fatalf("mode change %d (%d) emitted %+v, want zero", i, m, v)
		}
	}
}

func TestAutonomousEntryStopsBeforeTranslating(t *testing.T) {
	n, rec, _, _ := newTestNode(t)
	n.correction = 0.25
	n.handleJoystick(0.5, 0.1)
	n.handleMode(ModeAutoFlocking)

	v, count := rec.lastVelocity()
	if count != 2 || v != (Velocity{}) {
		t.Fatalf("expected stop on mode change, got %+v after %d commands", v, count)
	}
	n.tick()
	v, _ = rec.lastVelocity()
	if !near(v.Linear, 0.05*1.5) || !near(v.Angular, 0.25*8) {
		t.Fatalf("translate velocity = %+v", v)
	}
	if got := rec.motion[len(rec.motion)-1]; got != StatusTranslating {
		t.Fatalf("status = %q", got)
	}
}

func TestAutonomousEntryTelemetry(t *testing.T) {
	n, _, clock, _ := newTestNode(t)
	n.handleMode(ModeAutoFlocking)
	first := clock.t
	n.tick()
	clock.advance(time.Second)
	n.tick()
	if n.autoTransitions != 1 || !n.firstAutoAt.Equal(first) {
		t.Fatalf("transitions=%d first=%v", n.autoTransitions, n.firstAutoAt)
	}
	n.handleMode(ModeManualDirect)
	n.tick()
	n.handleMode(ModeAutoOther)
	n.tick()
	if n.autoTransitions != 2 || !n.firstAutoAt.Equal(first) {
		t.Fatalf("after re-entry transitions=%d first=%v", n.autoTransitions, n.firstAutoAt)
	}
}

func TestManualModeWaitsAndForwardsJoystick(t *testing.T) {
	n, rec, _, _ := newTestNode(t)
	n.handleMode(ModeManualSecondary)
	n.tick()
	if got := rec.motion[len(rec.motion)-1]; got != "WAITING, CURRENT MODE: 1" {
		t.Fatalf("status = %q", got)
	}
	_, before := rec.lastVelocity()
	n.tick()
	if _, after := rec.lastVelocity(); after != before {
		t.Fatalf("manual tick emitted velocity")
	}

	n.handleJoystick(1, -1)
	v, _ := rec.lastVelocity()
	if !near(v.Linear, 1.5) || !near(v.Angular, -8) {
		t.Fatalf("joystick velocity = %+v", v)
	}

	n.handleMode(ModeAutoFlocking)
	_, before = rec.lastVelocity()
	n.handleJoystick(1, 1)
	if _, after := rec.lastVelocity(); after != before {
		t.Fatalf("joystick accepted in autonomous mode")
	}
}

func TestUnreachableStateStopsAndContinues(t *testing.T) {
	n, rec, _, logs := newTestNode(t)
	n.handleMode(ModeAutoFlocking)
	n.state = MotionState(42)
	n.correction = 1
	n.tick()

	if got := rec.motion[len(rec.motion)-1]; got != StatusBadState {
		t.Fatalf("status = %q", got)
	}
	if v, _ := rec.lastVelocity(); v != (Velocity{}) {
		t.Fatalf("expected safe stop, got %+v", v)
	}
	entries := logs.FilterMessage("state machine fault, stopping").All()
	if len(entries) != 1 {
		t.Fatalf("expected one fault log, got %d", len(entries))
	}
	if msg, _ := entries[0].ContextMap()["error"].(string); !strings.Contains(msg, ErrUnreachableState.Error()) {
		t.Fatalf("logged error = %q", msg)
	}

	n.state = StateTranslate
	n.tick()
	if got := rec.motion[len(rec.motion)-1]; got != StatusTranslating {
		t.Fatalf("loop did not recover: %q", got)
	}
}

func TestHeartbeatAnnouncesOnce(t *testing.T) {
	n, rec, _, _ := newTestNode(t)
	for i := 0; i < 3; i++ {
		n.heartbeat()
	}
	if len(rec.messages) != 1 || rec.messages[0] != "I ajax" {
		t.Fatalf("announcements = %v", rec.messages)
	}
	if len(rec.status) != 3 {
		t.Fatalf("heartbeats = %d, want 3", len(rec.status))
	}
	for _, s := range rec.status {
		if s != "online" {
			t.Fatalf("heartbeat = %q", s)
		}
	}
}

func TestOdometryUpdatesRosterAndBroadcasts(t *testing.T) {
	n, rec, _, _ := newTestNode(t)
	_ = n.handlePoseBroadcast("aeneas", Pose{X: 1, Y: 0, Heading: 0})
	_ = n.handlePoseBroadcast("achilles", Pose{X: 0, Y: 1, Heading: math.Pi / 2})
	n.handleOdometry(0, 0, QuaternionFromYaw(0))

	if len(rec.poses) != 1 || rec.poses[0] != (Pose{}) {
		t.Fatalf("self pose broadcast = %+v", rec.poses)
	}
	if !near(n.correction, math.Pi/4) {
		t.Fatalf("correction = %v, want pi/4", n.correction)
	}

	// 相同输入得到相同修正
	for i := 0; i < 3; i++ {
		prev := n.correction
		n.handleOdometry(0, 0, QuaternionFromYaw(0))
		if n.correction != prev {
			t.Fatalf("correction changed on identical update: %v -> %v", prev, n.correction)
		}
	}
	if len(rec.headings) != 6 {
		t.Fatalf("heading publications = %d, want 6", len(rec.headings))
	}
}

func TestPoseBroadcastUnknownAgentRejected(t *testing.T) {
	n, rec, _, logs := newTestNode(t)
	before := n.roster.Snapshot()
	err := n.handlePoseBroadcast("odysseus", Pose{X: 5, Y: 5})
	if !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
	after := n.roster.Snapshot()
	for i := range before.Poses {
		if before.Poses[i] != after.Poses[i] {
			t.Fatalf("roster slot %d changed", i)
		}
	}
	if len(rec.headings) != 0 {
		t.Fatalf("consensus recomputed on rejected update")
	}
	if logs.FilterMessage("rejected pose broadcast").Len() != 1 {
		t.Fatalf("expected rejection log")
	}
	if got := n.Metrics().Snapshot()["unknown_agents"]; got != int64(1) {
		t.Fatalf("unknown_agents = %v", got)
	}
}

func TestPoseBroadcastEchoOfSelfIgnored(t *testing.T) {
	n, rec, _, _ := newTestNode(t)
	n.handleOdometry(1, 1, QuaternionFromYaw(0))
	if err := n.handlePoseBroadcast("ajax", Pose{X: 9, Y: 9}); err != nil {
		t.Fatalf("self echo: %v", err)
	}
	if p, _ := n.roster.Pose("ajax"); p.X != 1 {
		t.Fatalf("self slot overwritten by echo: %+v", p)
	}
	if len(rec.headings) != 1 {
		t.Fatalf("echo triggered recompute")
	}
}

func TestApplyTunables(t *testing.T) {
	n, _, _, _ := newTestNode(t)
	speed, gain, bad := 0.1, 2.0, -1.0
	got := n.applyTunables(TunablesPatch{LinearSpeed: &speed, Gain: &gain, NeighborRadius: &bad})
	if got.LinearSpeed != 0.1 || got.Gain != 2 || got.NeighborRadius != 2 {
		t.Fatalf("tunables = %+v", got)
	}
}
