// Package config loads bmqsched's configuration: viper + YAML with a
// BMQ_ environment prefix, struct tags, a DefaultConfig, and a Validate
// pass.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// TopologyConfig describes the simulated CPU topology that balancing and
// CPU selection walk outward through: SMT siblings, then same-package,
// then every CPU.
type TopologyConfig struct {
	// SMTGroups partitions CPU indices into sibling groups, e.g.
	// [[0,1],[2,3]] for two 2-way SMT cores.
	SMTGroups [][]int `yaml:"smt_groups" mapstructure:"smt_groups"`
	// Packages partitions CPU indices into package/socket groups.
	Packages [][]int `yaml:"packages" mapstructure:"packages"`
}

// SchedulerConfig carries every scheduler-wide knob: CPU count and
// topology, timeslice and resched threshold, yield behavior, and the
// pull-migration batch bound.
type SchedulerConfig struct {
	NumCPUs             int             `yaml:"num_cpus" mapstructure:"num_cpus"`
	Topology            TopologyConfig  `yaml:"topology" mapstructure:"topology"`
	Timeslice           time.Duration   `yaml:"timeslice" mapstructure:"timeslice"`
	ReschedThreshold    time.Duration   `yaml:"resched_threshold" mapstructure:"resched_threshold"`
	// YieldType selects Yield's behavior: 0 no-op, 1 deboost+requeue, 2
	// one-shot rq.skip.
	YieldType           int             `yaml:"yield_type" mapstructure:"yield_type"`
	HealthCheckInterval time.Duration   `yaml:"health_check_interval" mapstructure:"health_check_interval"`
	MaxPullBatch        int             `yaml:"max_pull_batch" mapstructure:"max_pull_batch"`
}

// Config is the top-level configuration document.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
}

// DefaultConfig returns every field populated with a sane single-host
// simulation default.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			NumCPUs: 4,
			Topology: TopologyConfig{
				SMTGroups: [][]int{{0, 1}, {2, 3}},
				Packages:  [][]int{{0, 1, 2, 3}},
			},
			Timeslice:           4 * time.Millisecond,
			ReschedThreshold:    100 * time.Microsecond,
			YieldType:           1,
			HealthCheckInterval: 30 * time.Second,
			MaxPullBatch:        32,
		},
	}
}

// Load reads bmqsched configuration from configFile (or the standard
// search path when empty), overlaying BMQ_-prefixed environment
// variables.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("bmqsched")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.bmqsched")
		v.AddConfigPath("/etc/bmqsched")
	}

	v.SetEnvPrefix("BMQ")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the invariants bmqsched's Scheduler constructor relies
// on. Called after every Unmarshal so a bad config file fails fast.
func (c *Config) Validate() error {
	s := &c.Scheduler
	if s.NumCPUs <= 0 {
		return fmt.Errorf("scheduler.num_cpus must be positive, got %d", s.NumCPUs)
	}
	if s.NumCPUs > 64 {
		return fmt.Errorf("scheduler.num_cpus exceeds the 64-bit CPUSet width (%d)", s.NumCPUs)
	}
	if s.Timeslice <= 0 {
		return fmt.Errorf("scheduler.timeslice must be positive")
	}
	if s.ReschedThreshold <= 0 || s.ReschedThreshold >= s.Timeslice {
		return fmt.Errorf("scheduler.resched_threshold must be in (0, timeslice)")
	}
	if s.YieldType < 0 || s.YieldType > 2 {
		return fmt.Errorf("scheduler.yield_type must be 0, 1, or 2, got %d", s.YieldType)
	}
	if s.MaxPullBatch <= 0 {
		return fmt.Errorf("scheduler.max_pull_batch must be positive")
	}
	for _, grp := range s.Topology.SMTGroups {
		for _, cpu := range grp {
			if cpu < 0 || cpu >= s.NumCPUs {
				return fmt.Errorf("scheduler.topology.smt_groups references out-of-range CPU %d", cpu)
			}
		}
	}
	return nil
}
