package agents

import (
	"errors"
	"fmt"
	"strings"
)

// Language is a supported conversation language.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
)

// ParseLanguage normalizes a language code and reports whether it is supported.
func ParseLanguage(raw string) (Language, bool) {
	switch Language(strings.ToLower(strings.TrimSpace(raw))) {
	case LanguageEnglish:
		return LanguageEnglish, true
	case LanguageSpanish:
		return LanguageSpanish, true
	default:
		return "", false
	}
}

// Profile is immutable reference data describing one voice agent.
type Profile struct {
	AgentID      string   `yaml:"agent_id" json:"agent_id"`
	Language     Language `yaml:"language" json:"language"`
	PracticeArea string   `yaml:"practice_area" json:"practice_area,omitempty"`
	Personality  string   `yaml:"personality" json:"personality,omitempty"`
	Version      int      `yaml:"version" json:"version"`
	// Default marks the agent used for its language when no practice area matches.
	Default bool `yaml:"default" json:"default,omitempty"`
}

// ErrNoUsableAgent indicates the directory cannot serve the default language.
var ErrNoUsableAgent = errors.New("agents: no usable agent")

// ConfigurationError reports a directory that cannot boot.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "agents: configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return ErrNoUsableAgent
}

type pairKey struct {
	language     Language
	practiceArea string
}

// Directory resolves (language, practice area) pairs to agent profiles.
// It is read-only after construction and safe for concurrent use.
type Directory struct {
	byID         map[string]Profile
	byPair       map[pairKey]Profile
	byLanguage   map[Language]Profile
	fallback     Profile
	defaultLang  Language
	profileCount int
}

// NewDirectory validates profiles and builds the lookup indexes. When an agent
// id appears more than once, the highest version wins.
func NewDirectory(profiles []Profile, defaultLanguage Language) (*Directory, error) {
	d := &Directory{
		byID:        make(map[string]Profile),
		byPair:      make(map[pairKey]Profile),
		byLanguage:  make(map[Language]Profile),
		defaultLang: defaultLanguage,
	}

	for i, p := range profiles {
		p.AgentID = strings.TrimSpace(p.AgentID)
		if p.AgentID == "" {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("profile %d: agent_id required", i)}
		}
		lang, ok := ParseLanguage(string(p.Language))
		if !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("agent %s: unsupported language %q", p.AgentID, p.Language)}
		}
		p.Language = lang
		p.PracticeArea = normalizePracticeArea(p.PracticeArea)
		if p.Version < 0 {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("agent %s: negative version", p.AgentID)}
		}
		if existing, ok := d.byID[p.AgentID]; ok {
			if existing.Language != p.Language || existing.PracticeArea != p.PracticeArea {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("agent %s: conflicting definitions", p.AgentID)}
			}
			if existing.Version >= p.Version {
				continue
			}
		}
		d.byID[p.AgentID] = p
	}

	// Index in input order so the first-loaded agent is the language fallback
	// unless one is explicitly flagged default.
	seen := make(map[string]bool, len(d.byID))
	for _, raw := range profiles {
		p, ok := d.byID[strings.TrimSpace(raw.AgentID)]
		if !ok || seen[p.AgentID] {
			continue
		}
		seen[p.AgentID] = true
		if p.PracticeArea != "" {
			if _, taken := d.byPair[pairKey{p.Language, p.PracticeArea}]; !taken {
				d.byPair[pairKey{p.Language, p.PracticeArea}] = p
			}
		}
		current, has := d.byLanguage[p.Language]
		if !has || (p.Default && !current.Default) {
			d.byLanguage[p.Language] = p
		}
	}

	fallback, ok := d.byLanguage[defaultLanguage]
	if !ok {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("no agent for default language %q", defaultLanguage)}
	}
	d.fallback = fallback
	d.profileCount = len(d.byID)
	return d, nil
}

// Resolve picks the agent for a conversation. An exact (language, practice
// area) match wins, then any agent for the language, then the default-language
// agent. It never fails.
func (d *Directory) Resolve(language Language, practiceArea string) Profile {
	area := normalizePracticeArea(practiceArea)
	if area != "" {
		if p, ok := d.byPair[pairKey{language, area}]; ok {
			return p
		}
	}
	if p, ok := d.byLanguage[language]; ok {
		return p
	}
	return d.fallback
}

// Lookup returns the profile registered under agentID.
func (d *Directory) Lookup(agentID string) (Profile, bool) {
	p, ok := d.byID[strings.TrimSpace(agentID)]
	return p, ok
}

// Version returns the configured version for agentID, or 0 when unknown.
func (d *Directory) Version(agentID string) int {
	return d.byID[strings.TrimSpace(agentID)].Version
}

// DefaultLanguage is the language served when a request's language has no agent.
func (d *Directory) DefaultLanguage() Language {
	return d.defaultLang
}

// Len reports the number of distinct agents.
func (d *Directory) Len() int {
	return d.profileCount
}

func normalizePracticeArea(area string) string {
	return strings.ToLower(strings.TrimSpace(area))
}
