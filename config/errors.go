package config

import "fmt"

// ConfigurationError reports a missing, malformed or inconsistent setting.
// Startup aborts on it; nothing proceeds with a partially valid config.
type ConfigurationError struct {
	Source string
	Key    string
	Err    error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Source != "" && e.Key != "":
		return fmt.Sprintf("configuration error in %s at %s: %v", e.Source, e.Key, e.Err)
	case e.Key != "":
		return fmt.Sprintf("configuration error at %s: %v", e.Key, e.Err)
	case e.Source != "":
		return fmt.Sprintf("configuration error in %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(source, key, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Source: source, Key: key, Err: fmt.Errorf(format, args...)}
}
