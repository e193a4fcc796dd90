package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Number is a float64 whose JSON form can carry the IEEE special values.
// Finite values encode as JSON numbers; NaN and the infinities encode as the
// strings "NaN", "+Inf" and "-Inf".
type Number float64

// String formats the number in its shortest form.
func (n Number) String() string {
	f := float64(n)
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return json.Marshal(n.String())
	}
	return json.Marshal(f)
}

// UnmarshalJSON accepts a JSON number or a string holding a number or one of
// the special value names.
func (n *Number) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := NumberFromJSON(raw)
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// ToGoValue returns a float64 for finite values and the special value name
// otherwise, suitable for encoders that reject non-finite floats.
func (n Number) ToGoValue() interface{} {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return n.String()
	}
	return f
}

// NumberFromJSON converts a decoded JSON value into a Number.
func NumberFromJSON(v interface{}) (Number, error) {
	switch val := v.(type) {
	case float64:
		return Number(val), nil
	case int:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", val.String())
		}
		return Number(f), nil
	case string:
		return ParseNumber(val)
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// ParseNumber parses decimal text or one of NaN, Inf, +Inf, -Inf.
func ParseNumber(s string) (Number, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "NaN":
		return Number(math.NaN()), nil
	case "Inf", "+Inf":
		return Number(math.Inf(1)), nil
	case "-Inf":
		return Number(math.Inf(-1)), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return Number(f), nil
}
