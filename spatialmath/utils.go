package spatialmath

import (
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ParseFloats splits up a space or comma delimited list of numbers, such as "1 0 0" or "1,0,0".
func ParseFloats(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	converted := make([]float64, 0, len(fields))
	for _, field := range fields {
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot parse %q", field)
		}
		converted = append(converted, value)
	}
	return converted, nil
}

// ParseVector parses exactly three delimited numbers into a vector.
func ParseVector(s string) (r3.Vector, error) {
	vals, err := ParseFloats(s)
	if err != nil {
		return r3.Vector{}, err
	}
	if len(vals) != 3 {
		return r3.Vector{}, errors.Errorf("expected 3 values, got %d in %q", len(vals), s)
	}
	return r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

// ParseTransform parses 12 (3x4) or 16 (4x4) row major values into a rigid transform.
func ParseTransform(s string) (RigidTransform, error) {
	vals, err := ParseFloats(s)
	if err != nil {
		return RigidTransform{}, err
	}
	if len(vals) != 12 && len(vals) != 16 {
		return RigidTransform{}, errors.Errorf("expected 12 or 16 values, got %d", len(vals))
	}
	rot, err := NewRotationMatrix([]float64{
		vals[0], vals[1], vals[2],
		vals[4], vals[5], vals[6],
		vals[8], vals[9], vals[10],
	})
	if err != nil {
		return RigidTransform{}, err
	}
	return NewRigidTransform(rot, r3.Vector{X: vals[3], Y: vals[7], Z: vals[11]}), nil
}
