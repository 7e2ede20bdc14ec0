// Package types provides core types and configurations for Kibitzer
package types

import (
	"fmt"
	"strconv"
	"time"
)

// DefaultMoveTime is the search time used when a caller supplies empty limits.
const DefaultMoveTime = 100 * time.Millisecond

// OptionType represents the declared type of a UCI engine option
type OptionType string

const (
	OptionTypeCheck  OptionType = "check"
	OptionTypeSpin   OptionType = "spin"
	OptionTypeCombo  OptionType = "combo"
	OptionTypeString OptionType = "string"
	OptionTypeButton OptionType = "button"
)

// Option is an engine option as declared during the UCI handshake.
// The declaration is immutable after the handshake; callers may only
// assign values, never redefine the option.
type Option struct {
	Name    string     `json:"name"`
	Type    OptionType `json:"type"`
	Default string     `json:"default,omitempty"`
	Min     *int       `json:"min,omitempty"`
	Max     *int       `json:"max,omitempty"`
	Vars    []string   `json:"vars,omitempty"`
}

// ValidateValue checks a candidate value against the option's declared
// type and constraints.
func (o Option) ValidateValue(value string) error {
	switch o.Type {
	case OptionTypeCheck:
		if value != "true" && value != "false" {
			return fmt.Errorf("option %s: value %q is not a boolean", o.Name, value)
		}
	case OptionTypeSpin:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("option %s: value %q is not an integer", o.Name, value)
		}
		if o.Min != nil && n < *o.Min {
			return fmt.Errorf("option %s: value %d below minimum %d", o.Name, n, *o.Min)
		}
		if o.Max != nil && n > *o.Max {
			return fmt.Errorf("option %s: value %d above maximum %d", o.Name, n, *o.Max)
		}
	case OptionTypeCombo:
		for _, v := range o.Vars {
			if v == value {
				return nil
			}
		}
		return fmt.Errorf("option %s: value %q is not one of the declared variants", o.Name, value)
	case OptionTypeButton:
		if value != "" {
			return fmt.Errorf("option %s: button options take no value", o.Name)
		}
	case OptionTypeString:
		// Any value is acceptable.
	default:
		return fmt.Errorf("option %s: unknown option type %q", o.Name, o.Type)
	}
	return nil
}

// EngineID holds the identity an engine reports during the handshake
type EngineID struct {
	Name   string `json:"name"`
	Author string `json:"author"`
}

// SearchLimits constrains a single search. The zero value means
// "search for DefaultMoveTime".
type SearchLimits struct {
	Depth     int           `json:"depth,omitempty"`
	Nodes     int64         `json:"nodes,omitempty"`
	MoveTime  time.Duration `json:"moveTime,omitempty"`
	WhiteTime time.Duration `json:"whiteTime,omitempty"`
	BlackTime time.Duration `json:"blackTime,omitempty"`
	WhiteInc  time.Duration `json:"whiteInc,omitempty"`
	BlackInc  time.Duration `json:"blackInc,omitempty"`
	MovesToGo int           `json:"movesToGo,omitempty"`
	Infinite  bool          `json:"infinite,omitempty"`
}

// IsZero reports whether no limit field is set.
func (l SearchLimits) IsZero() bool {
	return l == SearchLimits{}
}

// SearchResult is the outcome of a completed search: the engine's best move plus
// the deepest progress report seen on the way there. Score fields are
// pointers because engines omit them freely.
type SearchResult struct {
	BestMove string        `json:"bestMove"`
	Ponder   string        `json:"ponder,omitempty"`
	Depth    int           `json:"depth,omitempty"`
	SelDepth int           `json:"selDepth,omitempty"`
	ScoreCP  *int          `json:"scoreCP,omitempty"`
	Mate     *int          `json:"mate,omitempty"`
	Nodes    int64         `json:"nodes,omitempty"`
	NPS      int64         `json:"nps,omitempty"`
	Time     time.Duration `json:"time,omitempty"`
	PV       []string      `json:"pv,omitempty"`
}

// EngineConfig describes one engine executable and its startup options
type EngineConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Path    string            `json:"path" yaml:"path"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// PoolConfig controls the analysis worker pool
type PoolConfig struct {
	Size         int `json:"size,omitempty" yaml:"size,omitempty"`
	QueueSize    int `json:"queueSize,omitempty" yaml:"queueSize,omitempty"`
	JobTimeoutMs int `json:"jobTimeoutMs,omitempty" yaml:"jobTimeoutMs,omitempty"`
	MaxRestarts  int `json:"maxRestarts,omitempty" yaml:"maxRestarts,omitempty"`
}

// NotificationConfig controls desktop notifications
type NotificationConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

// KibitzerConfig is the top-level configuration file structure
type KibitzerConfig struct {
	Version       string             `json:"version" yaml:"version"`
	Engines       []EngineConfig     `json:"engines" yaml:"engines"`
	Pool          PoolConfig         `json:"pool,omitempty" yaml:"pool,omitempty"`
	Notifications NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Logging       LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty"`
}
