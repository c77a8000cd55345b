package navigation

import (
	"fmt"
	"strings"
	"time"

	"github.com/nholik/slot-sentinel/internal/page"
	"gopkg.in/yaml.v3"
)

// ActionType names a pre-action run before a step's click.
type ActionType string

const (
	// ActionWait waits for Selector to be present before locating the step.
	ActionWait ActionType = "wait"
	// ActionSleep pauses for Duration before locating the step.
	ActionSleep ActionType = "sleep"
	// ActionScroll scrolls the located element into view before clicking.
	ActionScroll ActionType = "scroll"
)

// Action is one pre-action of a step.
type Action struct {
	Type     ActionType    `yaml:"type" json:"type"`
	Selector string        `yaml:"selector,omitempty" json:"selector,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
}

// Step is one click of a navigation sequence.
type Step struct {
	Name       string   `yaml:"name,omitempty" json:"name,omitempty"`
	Selector   string   `yaml:"selector" json:"selector"`
	Fallbacks  []string `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"`
	PreActions []Action `yaml:"pre_actions,omitempty" json:"pre_actions,omitempty"`
	// Verify is a selector expected to appear once the click took effect.
	Verify string `yaml:"verify,omitempty" json:"verify,omitempty"`
}

// LabelStep builds a step that clicks the element whose visible text is label.
func LabelStep(label string) Step {
	return Step{Name: label, Selector: page.TextSelector(label)}
}

// Candidates returns the primary selector followed by the fallbacks, without blanks.
func (s Step) Candidates() []string {
	out := make([]string, 0, 1+len(s.Fallbacks))
	for _, candidate := range append([]string{s.Selector}, s.Fallbacks...) {
		if strings.TrimSpace(candidate) != "" {
			out = append(out, candidate)
		}
	}
	return out
}

// Describe returns a human label for logs and debug artifact names.
func (s Step) Describe() string {
	if s.Name != "" {
		return s.Name
	}
	if label, ok := page.TextLabel(s.Selector); ok {
		return label
	}
	return s.Selector
}

func (s Step) scrolls() bool {
	for _, action := range s.PreActions {
		if action.Type == ActionScroll {
			return true
		}
	}
	return false
}

// Validate reports configuration mistakes in the step.
func (s Step) Validate() error {
	if len(s.Candidates()) == 0 {
		return fmt.Errorf("step %q has no selector", s.Name)
	}
	for _, action := range s.PreActions {
		switch action.Type {
		case ActionWait:
			if strings.TrimSpace(action.Selector) == "" {
				return fmt.Errorf("step %q: wait action requires a selector", s.Describe())
			}
		case ActionSleep:
			if action.Duration <= 0 {
				return fmt.Errorf("step %q: sleep action requires a positive duration", s.Describe())
			}
		case ActionScroll:
		default:
			return fmt.Errorf("step %q: unknown action %q", s.Describe(), action.Type)
		}
	}
	return nil
}

// UnmarshalYAML accepts either a bare label ("施設の空き状況") or a full mapping.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var label string
		if err := node.Decode(&label); err != nil {
			return err
		}
		*s = LabelStep(strings.TrimSpace(label))
		return nil
	}
	type plain Step
	var decoded plain
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*s = Step(decoded)
	return nil
}
