package decision

import (
	"fmt"
	"strings"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/thyrook/boardsight/internal/engine"
)

// State is a stage of the analysis cycle.
type State int

const (
	Idle State = iota
	Capturing
	Localizing
	Classifying
	Resolving
	Analyzing
	Reporting
	Failed
)

var stateNames = [...]string{"idle", "capturing", "localizing", "classifying", "resolving", "analyzing", "reporting", "failed"}

func (s State) String() string {
	if s < Idle || s > Failed {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

type Action int

const (
	ActionAnalyze Action = iota
	ActionOverride
	ActionStrength
	ActionQuit
)

// Command is an operator instruction handled between cycles.
type Command struct {
	Action Action
	Mode   board.OverrideMode
	// Arg is the strength argument for ActionStrength.
	Arg string
}

// ParseCommand understands the console words: an empty line analyzes,
// w/b/a set the override, "s <strength>" changes strength and q quits.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Command{Action: ActionAnalyze}, nil
	}

	switch fields[0] {
	case "q", "quit", "exit":
		return Command{Action: ActionQuit}, nil
	case "s", "strength":
		if len(fields) < 2 {
			return Command{}, fmt.Errorf("strength needs a preset name or elo")
		}
		return Command{Action: ActionStrength, Arg: fields[1]}, nil
	case "analyze", "go":
		return Command{Action: ActionAnalyze}, nil
	}

	mode, err := board.ParseOverrideMode(fields[0])
	if err != nil {
		return Command{}, fmt.Errorf("unknown command %q", line)
	}
	return Command{Action: ActionOverride, Mode: mode}, nil
}

// SessionState is the only state carried from one cycle to the next.
type SessionState struct {
	Mode     board.OverrideMode `json:"mode"`
	Strength engine.Strength    `json:"strength"`
}

// Apply mutates the state for cmd. Analyze and quit leave it unchanged.
func (s *SessionState) Apply(cmd Command) error {
	switch cmd.Action {
	case ActionOverride:
		s.Mode = cmd.Mode
	case ActionStrength:
		depth := s.Strength.Depth
		st, err := engine.ParseStrength(cmd.Arg, depth)
		if err != nil {
			return err
		}
		s.Strength = st
	}
	return nil
}
