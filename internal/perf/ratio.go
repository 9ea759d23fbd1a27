package perf

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Ratio is a float that may legitimately be infinite. JSON has no infinity
// literal, so +Inf and -Inf travel as the strings "inf" and "-inf".
type Ratio float64

// IsInf reports whether r is +Inf or -Inf.
func (r Ratio) IsInf() bool {
	return math.IsInf(float64(r), 0)
}

// String formats r with the same spelling used on the wire.
func (r Ratio) String() string {
	switch {
	case math.IsInf(float64(r), 1):
		return "inf"
	case math.IsInf(float64(r), -1):
		return "-inf"
	}
	return strconv.FormatFloat(float64(r), 'f', 4, 64)
}

// MarshalJSON implements json.Marshaler.
func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	case math.IsNaN(f):
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "inf", "+inf", "Infinity":
			*r = Ratio(math.Inf(1))
		case "-inf", "-Infinity":
			*r = Ratio(math.Inf(-1))
		default:
			return fmt.Errorf("perf: invalid ratio %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("perf: invalid ratio: %w", err)
	}
	*r = Ratio(f)
	return nil
}
