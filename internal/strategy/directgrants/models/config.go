package models

import (
	"encoding/json"
	"time"

	dErrors "grantflow/pkg/domain-errors"
)

// Config fixes a direct-grants instance's behavior at pool-creation time.
type Config struct {
	// UseRegistryAnchor binds recipient identity to a registered profile
	// anchor instead of a caller-supplied payout address.
	UseRegistryAnchor bool `json:"use_registry_anchor"`
	// MetadataRequired rejects registrations without metadata.
	MetadataRequired bool `json:"metadata_required"`
	// Registration is accepted only inside [RegistrationStart, RegistrationEnd].
	RegistrationStart time.Time `json:"registration_start"`
	RegistrationEnd   time.Time `json:"registration_end"`
	// Allocation bounds are optional; a zero value disables that bound.
	AllocationStart time.Time `json:"allocation_start,omitempty"`
	AllocationEnd   time.Time `json:"allocation_end,omitempty"`
}

// ParseConfig decodes and validates the opaque config blob a pool creator
// supplies for its strategy.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed strategy config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.RegistrationStart.IsZero() || c.RegistrationEnd.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "registration window is required")
	}
	if !c.RegistrationEnd.After(c.RegistrationStart) {
		return dErrors.New(dErrors.CodeInvalidInput, "registration window must end after it starts")
	}
	if !c.AllocationStart.IsZero() && !c.AllocationEnd.IsZero() && !c.AllocationEnd.After(c.AllocationStart) {
		return dErrors.New(dErrors.CodeInvalidInput, "allocation window must end after it starts")
	}
	return nil
}

// RegistrationOpen reports whether now falls inside the registration window.
// Both bounds are inclusive.
func (c Config) RegistrationOpen(now time.Time) bool {
	return !now.Before(c.RegistrationStart) && !now.After(c.RegistrationEnd)
}

// AllocationOpen checks the optional allocation bounds. Unset bounds do not
// constrain.
func (c Config) AllocationOpen(now time.Time) bool {
	if !c.AllocationStart.IsZero() && now.Before(c.AllocationStart) {
		return false
	}
	if !c.AllocationEnd.IsZero() && now.After(c.AllocationEnd) {
		return false
	}
	return true
}
