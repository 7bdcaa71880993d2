package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a structure-id or spectrum-id absent from the index or store.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientLibrary signals an empty library or one below the required minimum.
	ErrInsufficientLibrary = errors.New("insufficient library")
	// ErrDimensionMismatch signals an embedding vector of unexpected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrConfiguration signals an unrecognized or mistyped configuration option.
	ErrConfiguration = errors.New("invalid configuration")
)

// NotFoundError wraps ErrNotFound with the kind and identifier that was looked up.
type NotFoundError struct {
	Kind string // "structure", "spectrum", "embedding"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q %s", e.Kind, e.ID, ErrNotFound.Error())
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound creates a not-found error.
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// InsufficientLibraryError wraps ErrInsufficientLibrary with the observed size.
type InsufficientLibraryError struct {
	Size     int
	Required int
}

func (e *InsufficientLibraryError) Error() string {
	return fmt.Sprintf("%s: %d spectra, need at least %d", ErrInsufficientLibrary.Error(), e.Size, e.Required)
}

func (e *InsufficientLibraryError) Unwrap() error { return ErrInsufficientLibrary }

// NewInsufficientLibrary creates an insufficient library error.
func NewInsufficientLibrary(size, required int) error {
	return &InsufficientLibraryError{Size: size, Required: required}
}

// DimensionMismatchError wraps ErrDimensionMismatch with the expected and actual lengths.
type DimensionMismatchError struct {
	Space    string
	ID       string
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: space %q expects %d, got %d",
			ErrDimensionMismatch.Error(), e.Space, e.Expected, e.Got)
	}
	return fmt.Sprintf("%s: space %q expects %d, got %d for %q",
		ErrDimensionMismatch.Error(), e.Space, e.Expected, e.Got, e.ID)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// NewDimensionMismatch creates a dimension mismatch error.
func NewDimensionMismatch(space, id string, expected, got int) error {
	return &DimensionMismatchError{Space: space, ID: id, Expected: expected, Got: got}
}

// ConfigurationError wraps ErrConfiguration with the offending option.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration.Error(), e.Option, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NewConfigurationError creates a configuration error.
func NewConfigurationError(option, reason string) error {
	return &ConfigurationError{Option: option, Reason: reason}
}

// Configf creates a configuration error with a formatted reason.
func Configf(option, format string, args ...any) error {
	return &ConfigurationError{Option: option, Reason: fmt.Sprintf(format, args...)}
}
