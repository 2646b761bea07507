package config

// Secret is a string that redacts itself when printed or serialized. Use it
// for passwords, client secrets, and signing keys in configuration structs.
// Call [Secret.Value] to read the underlying string.
//
// Secret prevents accidental leakage into logs and marshaled config; it is
// not encryption at rest.
type Secret string

const redacted = "[REDACTED]"

// String returns "[REDACTED]".
func (s Secret) String() string { return redacted }

// GoString returns "[REDACTED]" so %#v is safe too.
func (s Secret) GoString() string { return redacted }

// Value returns the secret itself.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool { return s != "" }

// MarshalText returns "[REDACTED]" for JSON, YAML, and other text
// encoders.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }
