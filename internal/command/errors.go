package command

import (
	"errors"

	"cellrun/internal/connection"
	"cellrun/internal/extract"
	"cellrun/internal/host"
	"cellrun/internal/kernel"
	"cellrun/internal/metrics"
)

// Kind groups failures by how they are reported.
type Kind int

const (
	// KindUserInput: nothing selected or no code in the block. Warning.
	KindUserInput Kind = iota
	// KindConfiguration: the server URL could not be resolved. Error.
	KindConfiguration
	// KindTransport: the kernel exchange or a host write failed. Error.
	KindTransport
)

// Classify maps an error from the pipeline to its Kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, host.ErrNoBlock), errors.Is(err, extract.ErrNoCode):
		return KindUserInput
	case connection.IsConfigError(err):
		return KindConfiguration
	}
	return KindTransport
}

// Severity is the toast severity for a Kind.
func (k Kind) Severity() host.Severity {
	if k == KindUserInput {
		return host.SeverityWarning
	}
	return host.SeverityError
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	switch Classify(err) {
	case KindUserInput:
		return metrics.OutcomeUserInput
	case KindConfiguration:
		return metrics.OutcomeConfig
	}
	var te *kernel.TransportError
	if errors.As(err, &te) {
		return metrics.OutcomeTransport
	}
	return metrics.OutcomeHostFailure
}

// message is the user-facing text for err.
func message(err error) string {
	switch Classify(err) {
	case KindUserInput:
		if errors.Is(err, extract.ErrNoCode) {
			return extract.ErrNoCode.Error()
		}
		return "Select a block first"
	case KindConfiguration:
		for _, target := range []error{
			connection.ErrSettingsAbsent,
			connection.ErrURLUnset,
			connection.ErrURLMalformed,
			connection.ErrIncompleteURL,
		} {
			if errors.Is(err, target) {
				return target.Error()
			}
		}
	}
	return "Jupyter execution failed: " + err.Error()
}
