package config

// MissingConfigurationError is returned when the configuration cannot
// describe a usable cluster.
type MissingConfigurationError struct {
	Reason string
}

func (e *MissingConfigurationError) Error() string {
	return "missing configuration: " + e.Reason
}
