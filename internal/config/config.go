package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// GeneBounds describes the physical range a single gene decodes into.
type GeneBounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Params holds every run parameter the engine consumes. Values start
// from Defaults, are layered with a YAML file, and may be overridden by
// CLI flags before Validate is called.
type Params struct {
	// Dimension is the gene vector length D.
	Dimension int `yaml:"dimension" validate:"gt=0"`

	// Population is the number of individuals N, fixed for the run.
	Population int `yaml:"population" validate:"gt=0"`

	// MutationRate is the per-gene mutation probability.
	MutationRate float64 `yaml:"mutationRate" validate:"gte=0,lte=1"`

	// CrossoverProb is the per-pair recombination probability.
	CrossoverProb float64 `yaml:"crossoverProb" validate:"gte=0,lte=1"`

	// MaxIterations bounds the generational loop.
	MaxIterations int `yaml:"maxIterations" validate:"gt=0"`

	// MaxWorkers caps concurrently in-flight fitness evaluations.
	MaxWorkers int `yaml:"maxWorkers" validate:"gte=1"`

	// Seed feeds the run's random source; equal seeds reproduce runs.
	Seed int64 `yaml:"seed"`

	// EarlyStopWindow stops the run after this many generations without
	// improvement of the best error. 0 disables early stopping.
	EarlyStopWindow int `yaml:"earlyStopWindow" validate:"gte=0"`

	// Bounds gives the decode range per gene for real-valued encodings.
	// Empty means the internal [0,1] encoding is already the value.
	Bounds []GeneBounds `yaml:"bounds,omitempty"`

	// PinnedPositions lists gene indices immune to genetic operators
	// (binary encodings only; such positions stay at 1).
	PinnedPositions []int `yaml:"pinnedPositions,omitempty"`

	// Pruning parameters, used by reduction runs only.
	PruneStep         float64 `yaml:"pruneStep" validate:"gte=0,lte=1"`
	PruneDelta        float64 `yaml:"pruneDelta" validate:"gte=0"`
	SizePenaltyWeight float64 `yaml:"sizePenaltyWeight" validate:"gte=0"`
	DropCount         int     `yaml:"dropCount" validate:"gte=0"`

	// AlwaysKeep is a 0/1 vector over species; positions set to 1 are
	// force-included after pruning (e.g. inert species).
	AlwaysKeep []int `yaml:"alwaysKeep,omitempty"`

	// NonImportant is a 0/1 vector over species marking positions the
	// seed synthesis is allowed to drop.
	NonImportant []int `yaml:"nonImportant,omitempty"`
}

// Defaults mirrors the tuning of the reference mechanism-reduction setup.
// The 3.0 penalty weight and drop count of 3 are domain-tuned values
// carried as configuration, not constants.
func Defaults() Params {
	return Params{
		MutationRate:      0.01,
		CrossoverProb:     0.9,
		MaxWorkers:        1,
		Seed:              42,
		PruneStep:         0.1,
		PruneDelta:        0.05,
		SizePenaltyWeight: 3.0,
		DropCount:         3,
	}
}

// Load reads params from a YAML file, layered over Defaults.
// The result is not validated; callers apply flag overrides first.
func Load(path string) (Params, error) {
	p := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse config file: %w", err)
	}
	return p, nil
}

var validate = validator.New()

// Validate checks the parameter record and returns a *ValidationError
// describing the first offending field. It must pass before any run
// starts; an invalid record is fatal.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			fe := errs[0]
			return &ValidationError{
				Field:  fe.Field(),
				Reason: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return fmt.Errorf("failed to validate params: %w", err)
	}

	if len(p.Bounds) > 0 && len(p.Bounds) != p.Dimension {
		return &ValidationError{
			Field:  "Bounds",
			Reason: fmt.Sprintf("length %d does not match dimension %d", len(p.Bounds), p.Dimension),
		}
	}
	for i, b := range p.Bounds {
		if b.Max <= b.Min {
			return &ValidationError{
				Field:  "Bounds",
				Reason: fmt.Sprintf("gene %d has max %v <= min %v", i, b.Max, b.Min),
			}
		}
	}
	for _, idx := range p.PinnedPositions {
		if idx < 0 || idx >= p.Dimension {
			return &ValidationError{
				Field:  "PinnedPositions",
				Reason: fmt.Sprintf("index %d outside [0,%d)", idx, p.Dimension),
			}
		}
	}
	return nil
}

// ValidationError reports an invalid run parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid run parameter: " + e.Field + " " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}
