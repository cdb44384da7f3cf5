// Package alertcfg holds per-instrument inactivity policies: a process-wide
// default plus explicit overrides, applied immediately on the next tick
// evaluation.
package alertcfg

import (
	"errors"
	"fmt"

	"github.com/quietdesk/stillwatch/internal/models"
)

// ErrInvalidConfig is returned when a policy fails validation. The prior
// configuration stays in effect.
var ErrInvalidConfig = errors.New("invalid alert config")

// Store maps instrument keys to alert policies. It is written by a single
// goroutine per feed; readers go through the owning engine.
type Store struct {
	def       models.AlertConfig
	overrides map[string]models.AlertConfig
}

// New creates a store with the given default policy. The default itself must
// be valid.
func New(def models.AlertConfig) (*Store, error) {
	if err := validate(def); err != nil {
		return nil, err
	}
	return &Store{
		def:       def,
		overrides: make(map[string]models.AlertConfig),
	}, nil
}

func validate(cfg models.AlertConfig) error {
	if cfg.Deviation <= 0 {
		return fmt.Errorf("%w: deviation must be positive, got %g", ErrInvalidConfig, cfg.Deviation)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %v", ErrInvalidConfig, cfg.Duration)
	}
	return nil
}

// Get returns the effective policy for an instrument key, falling back to the
// store default when no override exists.
func (s *Store) Get(key string) models.AlertConfig {
	if cfg, ok := s.overrides[key]; ok {
		return cfg
	}
	return s.def
}

// Default returns the process-wide default policy.
func (s *Store) Default() models.AlertConfig {
	return s.def
}

// SetDefault replaces the default policy applied to unconfigured instruments.
func (s *Store) SetDefault(cfg models.AlertConfig) error {
	if err := validate(cfg); err != nil {
		return err
	}
	s.def = cfg
	return nil
}

// Set replaces the policy for one instrument key. Unknown keys are always
// accepted: configuration may precede the first tick for that instrument.
func (s *Store) Set(key string, cfg models.AlertConfig) error {
	if key == "" {
		return fmt.Errorf("%w: instrument key must not be empty", ErrInvalidConfig)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	s.overrides[key] = cfg
	return nil
}

// SetMany applies the identical policy to every listed key as one logical
// batch. Validation happens once up front, so a bad policy rejects the whole
// batch without touching any key.
func (s *Store) SetMany(keys []string, cfg models.AlertConfig) error {
	if err := validate(cfg); err != nil {
		return err
	}
	for _, key := range keys {
		if key == "" {
			return fmt.Errorf("%w: instrument key must not be empty", ErrInvalidConfig)
		}
	}
	for _, key := range keys {
		s.overrides[key] = cfg
	}
	return nil
}

// Snapshot returns a copy of all explicit overrides keyed by instrument.
func (s *Store) Snapshot() map[string]models.AlertConfig {
	out := make(map[string]models.AlertConfig, len(s.overrides))
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}
