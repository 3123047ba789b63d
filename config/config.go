// Package config 单个机器人节点的部署配置：花名册、控制周期、共识增益、执行器标定与传输设置
// .toml 文件用 BurntSushi/toml 解析，其余按 YAML 解析
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"swarmrover/mobility"
)

// ErrInvalid 配置校验失败
var ErrInvalid = errors.New("config: invalid")

// 连接支持的编码
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// DefaultRoster 参考部署的六台机器人
var DefaultRoster = []string{"ajax", "aeneas", "achilles", "diomedes", "hector", "paris"}

// Config 节点配置文件
type Config struct {
	Name   string   `yaml:"name" toml:"name"`
	Roster []string `yaml:"roster" toml:"roster"`

	Listen  string   `yaml:"listen" toml:"listen"`
	Peers   []string `yaml:"peers,omitempty" toml:"peers"`
	Codec   string   `yaml:"codec" toml:"codec"`
	LogFile string   `yaml:"log_file" toml:"log_file"`

	LoopPeriod      time.Duration `yaml:"loop_period" toml:"loop_period"`
	StatusInterval  time.Duration `yaml:"status_interval" toml:"status_interval"`
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout" toml:"watchdog_timeout"`
	WatchdogCheck   time.Duration `yaml:"watchdog_check" toml:"watchdog_check"`

	LinearSpeed    float64 `yaml:"linear_speed" toml:"linear_speed"`
	NeighborRadius float64 `yaml:"neighbor_radius" toml:"neighbor_radius"`
	Gain           float64 `yaml:"gain" toml:"gain"`
	LinearScale    float64 `yaml:"linear_scale" toml:"linear_scale"`
	AngularScale   float64 `yaml:"angular_scale" toml:"angular_scale"`

	AutonomousModes []int `yaml:"autonomous_modes" toml:"autonomous_modes"`
}

// Default 参考默认值
func Default() Config {
	roster := make([]string, len(DefaultRoster))
	copy(roster, DefaultRoster)
	return Config{
		Roster:          roster,
		Listen:          ":8080",
		Codec:           CodecJSON,
		LogFile:         "mobility.log",
		LoopPeriod:      100 * time.Millisecond,
		StatusInterval:  5 * time.Second,
		WatchdogTimeout: 10 * time.Second,
		WatchdogCheck:   time.Second,
		LinearSpeed:     0.05,
		NeighborRadius:  2,
		Gain:            1,
		LinearScale:     1.5,
		AngularScale:    8,
		AutonomousModes: []int{2, 3},
	}
}

// Load 在默认值之上读取配置文件；路径为空直接返回默认值
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate 校验花名册与数值范围
func (c Config) Validate() error {
	if len(c.Roster) == 0 {
		return fmt.Errorf("%w: roster is empty", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(c.Roster))
	for i, name := range c.Roster {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("%w: roster slot %d has no name", ErrInvalid, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate roster name %q", ErrInvalid, name)
		}
		seen[name] = struct{}{}
	}
	if _, ok := seen[strings.TrimSpace(c.Name)]; !ok {
		return fmt.Errorf("%w: agent %q is not in the roster", ErrInvalid, c.Name)
	}
	durations := map[string]time.Duration{
		"loop_period":      c.LoopPeriod,
		"status_interval":  c.StatusInterval,
		"watchdog_timeout": c.WatchdogTimeout,
		"watchdog_check":   c.WatchdogCheck,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, key)
		}
	}
	if c.NeighborRadius <= 0 {
		return fmt.Errorf("%w: neighbor_radius must be positive", ErrInvalid)
	}
	switch c.Codec {
	case CodecJSON, CodecCBOR:
	default:
		return fmt.Errorf("%w: unknown codec %q", ErrInvalid, c.Codec)
	}
	return nil
}

// NodeSettings 转换为运动控制节点的运行参数
func (c Config) NodeSettings() mobility.Settings {
	modes := make([]mobility.ControlMode, 0, len(c.AutonomousModes))
	for _, m := range c.AutonomousModes {
		modes = append(modes, mobility.ControlMode(m))
	}
	return mobility.Settings{
		LinearSpeed: c.LinearSpeed,
		Consensus: mobility.ConsensusParams{
			Radius: c.NeighborRadius,
			Gain:   c.Gain,
		},
		Calibration: mobility.Calibration{
			LinearScale:  c.LinearScale,
			AngularScale: c.AngularScale,
		},
		AutonomousModes: modes,
		LoopPeriod:      c.LoopPeriod,
		StatusInterval:  c.StatusInterval,
		WatchdogTimeout: c.WatchdogTimeout,
		WatchdogCheck:   c.WatchdogCheck,
	}
}
