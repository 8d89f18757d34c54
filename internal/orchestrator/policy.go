package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy declares how one validation program is treated. Policies are
// configuration; adding a newly incompatible program never requires a
// code change.
type Policy struct {
	// Skip forces a success outcome without executing the program.
	Skip bool `yaml:"skip" json:"skip"`
	// SkipReason is the note recorded on a skipped outcome.
	SkipReason string `yaml:"skip_reason" json:"skip_reason,omitempty"`
	// ExtraArgs are passed verbatim, suppressing the help probe.
	ExtraArgs []string `yaml:"extra_args" json:"extra_args,omitempty"`
	// TimeoutOverride replaces the default per-program timeout.
	TimeoutOverride time.Duration `yaml:"timeout_override" json:"timeout_override,omitempty"`
}

// LoadPolicies reads a program-id→policy map from a YAML file. A missing
// file is an empty policy set, not an error.
func LoadPolicies(path string) (map[string]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Policy{}, nil
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	policies := make(map[string]Policy)
	if err := yaml.Unmarshal(data, &policies); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return policies, nil
}
