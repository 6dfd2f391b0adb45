package apkerr

import (
	"errors"
)

// Kind classifies an error by the pipeline stage that produced it.
// A Kind is itself an error so that callers can match with errors.Is.
type Kind string

const (
	Config          Kind = "ConfigError"
	Build           Kind = "BuildError"
	Integrity       Kind = "IntegrityError"
	Manifest        Kind = "ManifestError"
	Assembly        Kind = "AssemblyError"
	Signing         Kind = "SigningError"
	AmbiguousDevice Kind = "AmbiguousDeviceError"
	Transport       Kind = "TransportError"
	Install         Kind = "InstallError"
	Unknown         Kind = "Error"
)

func (k Kind) Error() string {
	return string(k)
}

// New wraps err with the given Kind. A nil err stays nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	return &kindError{
		err:  err,
		kind: kind,
	}
}

type kindError struct {
	err  error
	kind Kind
}

func (e *kindError) Error() string {
	if e.err == nil {
		return ""
	}

	return e.err.Error()
}

func (e *kindError) Unwrap() error {
	return e.err
}

func (e *kindError) Is(target error) bool {
	kind, ok := target.(Kind)
	return ok && kind == e.kind
}

// KindOf returns the outermost Kind attached to err,
// or Unknown if there is none.
func KindOf(err error) Kind {
	kerr := &kindError{}
	if errors.As(err, &kerr) {
		return kerr.kind
	}

	return Unknown
}
