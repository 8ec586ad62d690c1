package utils

import (
	"github.com/pkg/errors"
)

// NewConfigValidationError returns an error specifying that the given config field is invalid.
func NewConfigValidationError(path string, err error) error {
	return errors.Wrapf(err, "error validating %q", path)
}

// NewConfigValueError is used when a config field holds a value outside its allowed range.
func NewConfigValueError(path string, value interface{}, allowed string) error {
	return NewConfigValidationError(path, errors.Errorf("got %v, must be %s", value, allowed))
}

// NewDimensionMismatchError is used when two arrays that must line up have different lengths.
func NewDimensionMismatchError(what string, expected, actual int) error {
	return errors.Errorf("%s has %d entries, expected %d", what, actual, expected)
}

