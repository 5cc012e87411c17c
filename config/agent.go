package config

import (
	"fmt"
	"time"
)

// AgentConfig bounds a single orchestration run. MaxPlanSteps of zero leaves plans
// unbounded.
type AgentConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	MaxPlanSteps  int           `mapstructure:"max_plan_steps"`
	StepTimeout   time.Duration `mapstructure:"step_timeout"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
	SnippetLength int           `mapstructure:"snippet_length"`
}

// Normalize returns a copy with defaults for unset fields.
func (c AgentConfig) Normalize() AgentConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxPlanSteps < 0 {
		c.MaxPlanSteps = 0
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 2 * time.Minute
	}
	if c.SnippetLength <= 0 {
		c.SnippetLength = 280
	}
	return c
}

func (c AgentConfig) Validate() error {
	if c.MaxAttempts > 10 {
		return fmt.Errorf("agent.max_attempts must be <= 10, got %d", c.MaxAttempts)
	}
	if c.RunTimeout > 0 && c.StepTimeout > c.RunTimeout {
		return fmt.Errorf("agent.step_timeout (%s) exceeds agent.run_timeout (%s)", c.StepTimeout, c.RunTimeout)
	}
	return nil
}
