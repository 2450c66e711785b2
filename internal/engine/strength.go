package engine

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	MinElo   = 800
	MaxElo   = 3200
	MinDepth = 1
	MaxDepth = 20

	DefaultSkill = 10
	DefaultDepth = 6
)

// Strength is the playing strength handed to the engine.
type Strength struct {
	Name       string `json:"name" yaml:"name"`
	Elo        int    `json:"elo,omitempty" yaml:"elo,omitempty"`
	SkillLevel int    `json:"skill_level" yaml:"skill_level"`
	Depth      int    `json:"depth" yaml:"depth"`
}

func (s Strength) String() string {
	if s.Elo > 0 {
		return fmt.Sprintf("%s (elo %d, skill %d, depth %d)", s.Name, s.Elo, s.SkillLevel, s.Depth)
	}
	return fmt.Sprintf("%s (skill %d, depth %d)", s.Name, s.SkillLevel, s.Depth)
}

// Validate checks the skill and depth ranges.
func (s Strength) Validate() error {
	if s.SkillLevel < 0 || s.SkillLevel > 20 {
		return fmt.Errorf("skill level must be between 0 and 20, got %d", s.SkillLevel)
	}
	if s.Depth < MinDepth || s.Depth > MaxDepth {
		return fmt.Errorf("depth must be between %d and %d, got %d", MinDepth, MaxDepth, s.Depth)
	}
	if s.Elo != 0 && (s.Elo < MinElo || s.Elo > MaxElo) {
		return fmt.Errorf("elo must be between %d and %d, got %d", MinElo, MaxElo, s.Elo)
	}
	return nil
}

var presets = []Strength{
	{Name: "beginner", Elo: 800, SkillLevel: 0},
	{Name: "casual", Elo: 1200, SkillLevel: 3},
	{Name: "intermediate", Elo: 1600, SkillLevel: 6},
	{Name: "advanced", Elo: 2000, SkillLevel: 10},
	{Name: "expert", Elo: 2400, SkillLevel: 15},
	{Name: "master", Elo: 2800, SkillLevel: 20},
}

// DefaultStrength is used when nothing was configured.
func DefaultStrength() Strength {
	return Strength{Name: "default", SkillLevel: DefaultSkill, Depth: DefaultDepth}
}

// Presets lists the named strengths with the default depth.
func Presets() []Strength {
	out := make([]Strength, len(presets))
	for i, p := range presets {
		p.Depth = DefaultDepth
		out[i] = p
	}
	return out
}

// Preset looks up a named strength, by name or by its 1-based menu number.
func Preset(name string) (Strength, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, p := range Presets() {
		if p.Name == name || strconv.Itoa(i+1) == name {
			return p, nil
		}
	}
	return Strength{}, fmt.Errorf("unknown strength preset %q", name)
}

// CustomElo maps an ELO rating onto the 0..20 skill scale.
func CustomElo(elo int) (Strength, error) {
	if elo < MinElo || elo > MaxElo {
		return Strength{}, fmt.Errorf("elo must be between %d and %d, got %d", MinElo, MaxElo, elo)
	}
	skill := min(20, max(0, (elo-MinElo)/120))
	return Strength{Name: "custom", Elo: elo, SkillLevel: skill, Depth: DefaultDepth}, nil
}

// ParseStrength accepts a preset name, a preset number, an ELO rating or
// "default". A positive depth replaces the preset's depth.
func ParseStrength(s string, depth int) (Strength, error) {
	var (
		st  Strength
		err error
	)
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "default"):
		st = DefaultStrength()
	default:
		if elo, convErr := strconv.Atoi(s); convErr == nil && elo >= MinElo {
			st, err = CustomElo(elo)
		} else {
			st, err = Preset(s)
		}
	}
	if err != nil {
		return Strength{}, err
	}
	if depth != 0 {
		st.Depth = depth
	}
	if err := st.Validate(); err != nil {
		return Strength{}, err
	}
	return st, nil
}
