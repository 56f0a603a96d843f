package routing

import (
	"encoding/json"
	"fmt"
)

// Target is one (provider, model) routing candidate.
type Target struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Defaults for image analysis when the request names no target.
const (
	DefaultImageProvider = "mistral"
	DefaultImageModel    = "magistral-small-2509"
	DefaultImagePrompt   = "Analyze this image and describe what you see."
)

// TargetSpec is the request-side model specification. It accepts three
// JSON shapes: a bare model name, one {provider, model} object, or a list
// of such objects. A bare name is promoted to the default provider when
// the router resolves it.
type TargetSpec struct {
	Targets []Target
}

// UnmarshalJSON implements the three accepted shapes.
func (s *TargetSpec) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		if name != "" {
			s.Targets = []Target{{Model: name}}
		}
		return nil
	}

	var one Target
	if err := json.Unmarshal(data, &one); err == nil && one.Model != "" {
		s.Targets = []Target{one}
		return nil
	}

	var many []Target
	if err := json.Unmarshal(data, &many); err == nil {
		s.Targets = many
		return nil
	}

	return fmt.Errorf("model must be a name, a {provider, model} object, or a list of them")
}

// IsEmpty reports whether the spec names no target.
func (s *TargetSpec) IsEmpty() bool {
	return s == nil || len(s.Targets) == 0
}

// resolve fills empty providers with the default and drops targets without
// a model name. A list is otherwise taken verbatim.
func (s *TargetSpec) resolve(defaultProvider string) []Target {
	if s.IsEmpty() {
		return nil
	}
	out := make([]Target, 0, len(s.Targets))
	for _, t := range s.Targets {
		if t.Model == "" {
			continue
		}
		if t.Provider == "" {
			t.Provider = defaultProvider
		}
		out = append(out, t)
	}
	return out
}
