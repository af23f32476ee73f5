// Package calculator computes material quantities from project dimensions.
package calculator

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Kind selects the kind of quantity to compute.
type Kind string

const (
	Area   Kind = "area"
	Volume Kind = "volume"
	Linear Kind = "linear"
)

// ErrUnknownKind is returned for an unsupported calculation kind.
var ErrUnknownKind = errors.New("unknown calculation type")

// ErrOutOfRange is returned when a result does not fit a float64.
var ErrOutOfRange = errors.New("result out of range")

// Option describes a calculation kind to the user.
type Option struct {
	Type        Kind   `json:"type"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Options lists the supported calculation kinds.
func Options() []Option {
	return []Option{
		{Type: Area, Label: "Area (m²)", Description: "Paint, tiles, flooring"},
		{Type: Volume, Label: "Volume (m³)", Description: "Concrete, fill materials"},
		{Type: Linear, Label: "Linear (m)", Description: "Lumber, pipes, wires"},
	}
}

// Result is a computed quantity.
type Result struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Required returns the dimension names a kind needs.
func Required(kind Kind) ([]string, error) {
	switch kind {
	case Area:
		return []string{"length", "width"}, nil
	case Volume:
		return []string{"length", "width", "depth"}, nil
	case Linear:
		return []string{"length"}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%q", kind)
	}
}

// Missing returns the required dimensions absent from dims.
func Missing(kind Kind, dims map[string]any) ([]string, error) {
	required, err := Required(kind)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range required {
		if _, ok := dims[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// Compute multiplies the required dimensions of kind, rounded to two decimals.
func Compute(kind Kind, dims map[string]any) (Result, error) {
	required, err := Required(kind)
	if err != nil {
		return Result{}, err
	}

	value := 1.0
	for _, name := range required {
		raw, ok := dims[name]
		if !ok {
			return Result{}, errors.Errorf("missing dimension %s", name)
		}
		n, err := toFloat(raw)
		if err != nil {
			return Result{}, errors.Wrapf(err, "invalid dimension %s", name)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Result{}, errors.Errorf("dimension %s must be finite", name)
		}
		if n < 0 {
			return Result{}, errors.Errorf("dimension %s must not be negative", name)
		}
		value *= n
	}

	value = Round(value)
	if math.IsInf(value, 0) {
		return Result{}, ErrOutOfRange
	}
	return Result{Value: value, Unit: Unit(kind)}, nil
}

// Unit is the unit symbol of kind.
func Unit(kind Kind) string {
	switch kind {
	case Area:
		return "m²"
	case Volume:
		return "m³"
	default:
		return "m"
	}
}

// Round rounds to two decimal places.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, errors.Errorf("not a number: %v", v)
	}
}
