package memory

import (
	"fmt"
	"time"
)

// State is the derived freshness class of an entry.
type State int

const (
	StateFresh State = iota
	StateAging
	StateStale
	StateArchived
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateAging:
		return "aging"
	case StateStale:
		return "stale"
	case StateArchived:
		return "archived"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "fresh":
		*s = StateFresh
	case "aging":
		*s = StateAging
	case "stale":
		*s = StateStale
	case "archived":
		*s = StateArchived
	default:
		return fmt.Errorf("memory: unknown state %q", b)
	}
	return nil
}

// Default thresholds, in elapsed days. An entry is aging from AgingAfter,
// stale from StaleAfter and archived from ArchivedAfter.
const (
	DefaultAgingAfterDays    = 31
	DefaultStaleAfterDays    = 60
	DefaultArchivedAfterDays = 90
)

// Thresholds are the day boundaries between states.
type Thresholds struct {
	AgingAfterDays    int `json:"agingAfterDays" yaml:"agingAfterDays" toml:"agingAfterDays"`
	StaleAfterDays    int `json:"staleAfterDays" yaml:"staleAfterDays" toml:"staleAfterDays"`
	ArchivedAfterDays int `json:"archivedAfterDays" yaml:"archivedAfterDays" toml:"archivedAfterDays"`
}

// DefaultThresholds returns fresh 0-30, aging 31-59, stale 60-89 and
// archived from day 90.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AgingAfterDays:    DefaultAgingAfterDays,
		StaleAfterDays:    DefaultStaleAfterDays,
		ArchivedAfterDays: DefaultArchivedAfterDays,
	}
}

// Validate requires strictly increasing positive boundaries.
func (t Thresholds) Validate() error {
	if t.AgingAfterDays <= 0 {
		return fmt.Errorf("memory: agingAfterDays must be positive, got %d", t.AgingAfterDays)
	}
	if t.StaleAfterDays <= t.AgingAfterDays {
		return fmt.Errorf("memory: staleAfterDays (%d) must exceed agingAfterDays (%d)", t.StaleAfterDays, t.AgingAfterDays)
	}
	if t.ArchivedAfterDays <= t.StaleAfterDays {
		return fmt.Errorf("memory: archivedAfterDays (%d) must exceed staleAfterDays (%d)", t.ArchivedAfterDays, t.StaleAfterDays)
	}
	return nil
}

// Classifier maps an entry's age to a State. The zero value uses the default
// thresholds.
type Classifier struct {
	Default Thresholds
	ByType  map[EntryType]Thresholds
}

// NewClassifier returns a classifier with the given defaults and per-type
// overrides.
func NewClassifier(def Thresholds, byType map[EntryType]Thresholds) Classifier {
	return Classifier{Default: def, ByType: byType}
}

// For returns the thresholds applied to t.
func (c Classifier) For(t EntryType) Thresholds {
	if th, ok := c.ByType[t]; ok {
		return th
	}
	if c.Default == (Thresholds{}) {
		return DefaultThresholds()
	}
	return c.Default
}

// Classify uses the default thresholds.
func (c Classifier) Classify(lastUpdated, now time.Time) State {
	return classify(c.For(""), AgeDays(lastUpdated, now))
}

// ClassifyType uses the thresholds for typ.
func (c Classifier) ClassifyType(typ EntryType, lastUpdated, now time.Time) State {
	return classify(c.For(typ), AgeDays(lastUpdated, now))
}

func classify(th Thresholds, days int) State {
	switch {
	case days >= th.ArchivedAfterDays:
		return StateArchived
	case days >= th.StaleAfterDays:
		return StateStale
	case days >= th.AgingAfterDays:
		return StateAging
	default:
		return StateFresh
	}
}

// AgeDays returns whole calendar days between the two dates. A future
// timestamp counts as zero.
func AgeDays(lastUpdated, now time.Time) int {
	lu := time.Date(lastUpdated.Year(), lastUpdated.Month(), lastUpdated.Day(), 0, 0, 0, 0, time.UTC)
	n := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := int(n.Sub(lu).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
