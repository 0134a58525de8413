package agents

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type profileFile struct {
	Agents []Profile `yaml:"agents"`
}

// LoadFile reads agent profiles from a YAML document of the form:
//
//	agents:
//	  - agent_id: agent-en-1
//	    language: en
//	    practice_area: personal-injury
//	    version: 3
func LoadFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agents: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML agent profiles.
func Parse(data []byte) ([]Profile, error) {
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("agents: decode profiles: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, &ConfigurationError{Reason: "profile file lists no agents"}
	}
	return file.Agents, nil
}

// DefaultProfiles is the built-in roster used when no profile file is configured.
func DefaultProfiles() []Profile {
	return []Profile{
		{AgentID: "agent-en-1", Language: LanguageEnglish, Personality: "warm intake specialist", Version: 1, Default: true},
		{AgentID: "agent-en-pi", Language: LanguageEnglish, PracticeArea: "personal-injury", Personality: "empathetic injury intake", Version: 1},
		{AgentID: "agent-en-imm", Language: LanguageEnglish, PracticeArea: "immigration", Personality: "patient immigration intake", Version: 1},
		{AgentID: "agent-es-1", Language: LanguageSpanish, Personality: "especialista cordial de admisión", Version: 1, Default: true},
		{AgentID: "agent-es-imm", Language: LanguageSpanish, PracticeArea: "immigration", Personality: "admisión de inmigración", Version: 1},
	}
}
