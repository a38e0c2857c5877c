// Package agent defines the data model shared by the registry, the
// process supervisor and the message router: agent configuration, the
// per-agent record with its lifecycle status, and the sentinel errors
// used on lookup and mutate paths.
package agent

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a supervised agent process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Config holds the configuration of one agent. It is only changed
// through Registry.UpdateAgent, which may restart the process to apply
// the change.
type Config struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Kind   string `yaml:"kind" json:"kind"`
	Port   int    `yaml:"port" json:"port"`
	Model  string `yaml:"model" json:"model"`
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	APIKey string `yaml:"api_key" json:"-"`

	// Extra carries caller-supplied settings that are passed through to
	// the worker without interpretation.
	Extra map[string]any `yaml:",inline" json:"extra,omitempty"`
}

// URL returns the loopback endpoint derived from the assigned port.
func (c Config) URL() string {
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

// Record is the registry's view of one agent: configuration plus the
// mutable lifecycle state. All mutation happens inside the registry
// under the per-agent lock.
type Record struct {
	ID              string     `json:"id"`
	Config          Config     `json:"config"`
	Status          Status     `json:"status"`
	PID             int        `json:"pid,omitempty"`
	URL             string     `json:"url,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
}

// Update describes a partial configuration change. Zero-valued fields
// are left untouched.
type Update struct {
	Name   string `json:"name,omitempty"`
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	APIKey string `json:"api_key,omitempty"`
}

// Apply merges the update into a config and reports whether anything
// changed.
func (u Update) Apply(c *Config) bool {
	changed := false
	if u.Name != "" && u.Name != c.Name {
		c.Name = u.Name
		changed = true
	}
	if u.Model != "" && u.Model != c.Model {
		c.Model = u.Model
		changed = true
	}
	if u.Prompt != "" && u.Prompt != c.Prompt {
		c.Prompt = u.Prompt
		changed = true
	}
	if u.APIKey != "" && u.APIKey != c.APIKey {
		c.APIKey = u.APIKey
		changed = true
	}
	return changed
}

// ErrAgentNotFound is returned when an agent id is unknown to the registry.
var ErrAgentNotFound = errors.New("agent not found")

// ErrAgentNotRunning is returned when a query targets an agent that is
// not in the running state.
var ErrAgentNotRunning = errors.New("agent is not running")

// ErrAgentExists is returned when creating an agent with an id that is
// already registered.
var ErrAgentExists = errors.New("agent already exists")
