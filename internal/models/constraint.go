package models

// Bound limits a numeric service parameter. A nil side is unbounded.
type Bound struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Constraints maps parameter names to their bounds for one entity.
type Constraints map[string]Bound

// Violation records one parameter that was clamped.
type Violation struct {
	Param     string   `json:"param"`
	Value     float64  `json:"value"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	ClampedTo float64  `json:"clamped_to"`
}

// Validate rejects bounds whose minimum exceeds the maximum.
func (c Constraints) Validate() error {
	for param, b := range c {
		if param == "" {
			return ErrFieldRequired("param")
		}

		if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
			return ErrInvalidField(param, "min must not exceed max")
		}
	}

	return nil
}
