package ssh

import (
	"errors"

	"github.com/hpconf/hpconf/pkg/cfgerrors"
	"github.com/hpconf/hpconf/pkg/remote"
)

// TransportError represents an error from the SSH layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "read")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// unavailable classifies err for callers of remote.Control. Errors that
// already carry a kind are passed through.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *cfgerrors.Error
	if errors.As(err, &ce) {
		return err
	}
	e := remote.Unavailable(op, err)
	var te *TransportError
	if errors.As(err, &te) {
		e = e.WithDetail("temporary", te.IsTemporary).WithDetail("auth", te.IsAuthError)
	}
	return e
}
