package config

// SecretStringValue replaces real secrets in any serialized configuration.
// Exported so tests can assert redaction.
const SecretStringValue = "<secret>"

// SecretString holds values like the catalog bearer token which must never
// leak into dumped configuration, logs or debug reports.
type SecretString string

// MarshalJSON always serializes the redaction placeholder, never the value.
func (s SecretString) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return []byte("\"" + SecretStringValue + "\""), nil
}

// MarshalYAML always serializes the redaction placeholder, never the value.
func (s SecretString) MarshalYAML() (any, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return SecretStringValue, nil
}
