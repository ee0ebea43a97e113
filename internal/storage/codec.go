package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorrupt is returned when a stored value cannot be parsed into its record type
var ErrCorrupt = errors.New("storage: corrupt value")

// Validator is implemented by records that check their own invariants after decoding
type Validator interface {
	Validate() error
}

// GetJSON reads key and decodes it into v. A missing key reports false with
// no error; a value that fails to decode or validate reports ErrCorrupt.
func GetJSON(ctx context.Context, tier Tier, key string, v any) (bool, error) {
	raw, ok, err := tier.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
		}
	}
	return true, nil
}

// SetJSON encodes v and writes it under key
func SetJSON(ctx context.Context, tier Tier, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := tier.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
