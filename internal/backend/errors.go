package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEmail indicates a registration without a usable email address.
	ErrInvalidEmail = errors.New("backend: valid email required")
	// ErrAccountExists indicates a registration for an email that already has an account.
	ErrAccountExists = errors.New("backend: account already exists")
	// ErrUnknownAccount indicates a token or email that maps to no account.
	ErrUnknownAccount = errors.New("backend: unknown account")
	// ErrInvalidProfile indicates a profile write without a display name.
	ErrInvalidProfile = errors.New("backend: display name required")

	errMissingDatabase  = errors.New("backend: database handle is required")
	errMissingStorage   = errors.New("backend: storage is required")
	errMissingIssuer    = errors.New("backend: token issuer is required")
	errMissingValidator = errors.New("backend: session validator is required")
)

// ServiceError carries a stable `<operation>.<reason>` code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opBackendNew    = "backend.new"
	opRegister      = "backend.register"
	opSignIn        = "backend.sign_in"
	opRefresh       = "backend.refresh"
	opSignOut       = "backend.sign_out"
	opCurrent       = "backend.current_identity"
	opGetProfile    = "backend.get_profile"
	opUpsertProfile = "backend.upsert_profile"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
