package run

// ConfigurationError reports a missing or contradictory field in the run
// description. Configuration is checked before any state is written, so a
// run that fails this way leaves its directory untouched for a clean retry.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "run configuration: " + e.Reason
}

// ExternalProcessError reports a failed external model-builder invocation.
type ExternalProcessError struct {
	Command string
	Err     error
}

func (e *ExternalProcessError) Error() string {
	return "external builder " + e.Command + ": " + e.Err.Error()
}

func (e *ExternalProcessError) Unwrap() error {
	return e.Err
}

// ResumeConsistencyError reports that an artifact a resume transition
// depends on is missing from the run directory.
type ResumeConsistencyError struct {
	Reason string
}

func (e *ResumeConsistencyError) Error() string {
	return "resume consistency: " + e.Reason
}
