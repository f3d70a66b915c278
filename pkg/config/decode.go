package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Decode converts a plugin's raw config map into out, which must be a
// pointer to a struct with mapstructure tags. Scalars are coerced where it
// is unambiguous (e.g. "21" to 21, or a single value to a one-element list),
// unknown keys are rejected and the result is checked with its validate tags.
func Decode(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("decode plugin config: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid plugin config: %w", err)
	}
	return nil
}
