package types

import "log/slog"

const redactedPlaceholder = "***REDACTED***"

// SecretString is a string type that prevents accidental logging or
// serialization of sensitive values (database URLs, API credentials).
// fmt, JSON, and slog all see a redacted placeholder; Unmask returns the
// raw value for the narrow call sites that genuinely need it.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// LogValue implements slog.LogValuer so structured log output never carries
// the raw secret.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// Unmask returns the raw plaintext value. Limit usage to constructing
// connection strings and authorization headers.
func (s SecretString) Unmask() string {
	return string(s)
}
