// Package wake decides when an incoming message should wake the local
// agent, manages session continuity for the wake endpoint, and runs
// the configured invocation method.
package wake

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
)

// Level orders notification outcomes. Silent suppresses the wake.
type Level int

const (
	LevelSilent Level = iota
	LevelNormal
	LevelUrgent
)

// ParseLevel maps a preference string to its Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent":
		return LevelSilent, nil
	case "normal", "":
		return LevelNormal, nil
	case "urgent":
		return LevelUrgent, nil
	default:
		return LevelNormal, errdefs.New(errdefs.KindValidation, "unknown notification level %q", s)
	}
}

func (l Level) String() string {
	switch l {
	case LevelSilent:
		return "silent"
	case LevelUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// Wake conditions. Each active condition can raise the evaluated level.
const (
	CondAnyMessage         = "any_message"
	CondDirectMention      = "direct_mention"
	CondHighPriority       = "high_priority"
	CondFromSpecificAgent  = "from_specific_agent"
	CondKeywordMatch       = "keyword_match"
	CondSwarmSystemMessage = "swarm_system_message"
)

// QuietHours is a daily window during which only high-priority and
// system messages get through, promoted to urgent. Start is inclusive,
// end exclusive; windows may wrap midnight (start > end).
type QuietHours struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// Contains reports whether the given hour falls in the window.
func (q QuietHours) Contains(hour int) bool {
	if q.StartHour == q.EndHour {
		return false
	}
	if q.StartHour < q.EndHour {
		return hour >= q.StartHour && hour < q.EndHour
	}
	return hour >= q.StartHour || hour < q.EndHour
}

// Preferences controls when incoming messages wake the agent.
type Preferences struct {
	Enabled         bool
	DefaultLevel    Level
	WakeConditions  map[string]bool
	WatchedAgents   map[string]bool
	WatchedKeywords []string
	MutedSwarms     map[string]bool
	QuietHours      *QuietHours
}

// MessageContext carries the per-message facts preference evaluation
// needs.
type MessageContext struct {
	SenderID        string
	SwarmID         string
	Content         string
	IsDirectMention bool
	IsHighPriority  bool
	IsSystemMessage bool
	CurrentHour     int
}

// prefsFile is the YAML shape of the preferences file.
type prefsFile struct {
	Enabled         *bool       `yaml:"enabled"`
	DefaultLevel    string      `yaml:"default_level"`
	WakeConditions  []string    `yaml:"wake_conditions"`
	WatchedAgents   []string    `yaml:"watched_agents"`
	WatchedKeywords []string    `yaml:"watched_keywords"`
	MutedSwarms     []string    `yaml:"muted_swarms"`
	QuietHours      *QuietHours `yaml:"quiet_hours"`
}

// DefaultPreferences wakes at the normal level on any message.
func DefaultPreferences() *Preferences {
	return &Preferences{
		Enabled:        true,
		DefaultLevel:   LevelNormal,
		WakeConditions: map[string]bool{CondAnyMessage: true},
		WatchedAgents:  map[string]bool{},
		MutedSwarms:    map[string]bool{},
	}
}

var knownConditions = map[string]bool{
	CondAnyMessage:         true,
	CondDirectMention:      true,
	CondHighPriority:       true,
	CondFromSpecificAgent:  true,
	CondKeywordMatch:       true,
	CondSwarmSystemMessage: true,
}

// LoadPreferences reads the YAML preferences file. A missing path (or
// empty path) yields defaults; a malformed file is an error.
func LoadPreferences(path string) (*Preferences, error) {
	if path == "" {
		return DefaultPreferences(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err, "cannot read preferences file")
	}

	var raw prefsFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err, "preferences file is not valid YAML")
	}

	p := DefaultPreferences()
	if raw.Enabled != nil {
		p.Enabled = *raw.Enabled
	}
	if raw.DefaultLevel != "" {
		if p.DefaultLevel, err = ParseLevel(raw.DefaultLevel); err != nil {
			return nil, err
		}
	}
	if raw.WakeConditions != nil {
		p.WakeConditions = map[string]bool{}
		for _, c := range raw.WakeConditions {
			if !knownConditions[c] {
				return nil, errdefs.New(errdefs.KindValidation, "unknown wake condition %q", c)
			}
			p.WakeConditions[c] = true
		}
	}
	for _, a := range raw.WatchedAgents {
		p.WatchedAgents[a] = true
	}
	p.WatchedKeywords = raw.WatchedKeywords
	for _, s := range raw.MutedSwarms {
		p.MutedSwarms[s] = true
	}
	if raw.QuietHours != nil {
		q := *raw.QuietHours
		if q.StartHour < 0 || q.StartHour > 23 || q.EndHour < 0 || q.EndHour > 23 {
			return nil, errdefs.New(errdefs.KindValidation, "quiet hours must be within 0-23")
		}
		p.QuietHours = &q
	}
	logger.InfoCF("wake", "notification preferences loaded", map[string]any{
		"path": path, "default": p.DefaultLevel.String(), "enabled": p.Enabled,
	})
	return p, nil
}

// Evaluate returns the notification level for one message. Muted swarms
// and disabled preferences are silent; quiet hours pass only
// high-priority and system messages, promoted to urgent; otherwise each
// active wake condition whose predicate holds raises the level, and the
// maximum wins.
func (p *Preferences) Evaluate(mc MessageContext) Level {
	if !p.Enabled || p.MutedSwarms[mc.SwarmID] {
		return LevelSilent
	}
	if p.QuietHours != nil && p.QuietHours.Contains(mc.CurrentHour) {
		if mc.IsHighPriority || mc.IsSystemMessage {
			return LevelUrgent
		}
		return LevelSilent
	}

	level := LevelSilent
	raise := func(to Level) {
		if to > level {
			level = to
		}
	}
	if p.WakeConditions[CondAnyMessage] {
		raise(p.DefaultLevel)
	}
	if p.WakeConditions[CondDirectMention] && mc.IsDirectMention {
		raise(LevelUrgent)
	}
	if p.WakeConditions[CondHighPriority] && mc.IsHighPriority {
		raise(LevelUrgent)
	}
	if p.WakeConditions[CondFromSpecificAgent] && p.WatchedAgents[mc.SenderID] {
		raise(LevelUrgent)
	}
	if p.WakeConditions[CondKeywordMatch] && p.matchesKeyword(mc.Content) {
		raise(LevelUrgent)
	}
	if p.WakeConditions[CondSwarmSystemMessage] && mc.IsSystemMessage {
		raise(LevelUrgent)
	}
	return level
}

// matchesKeyword does a case-insensitive substring check against the
// watched keywords.
func (p *Preferences) matchesKeyword(content string) bool {
	if len(p.WatchedKeywords) == 0 {
		return false
	}
	lowered := strings.ToLower(content)
	for _, kw := range p.WatchedKeywords {
		if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
