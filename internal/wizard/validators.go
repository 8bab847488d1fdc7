package wizard

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Validator normalizes raw input for one step, reporting false when the
// input must be re-prompted. It never mutates state.
type Validator func(raw string) (any, bool)

// Pilots accepted at the pilot step. Only the PILOT_ entries are advertised.
var Pilots = []string{"PILOT_THESSALONIKI", "PILOT_PILSEN", "PILOT_OLOMOUC", "GREECE", "CZECHIA"}

var (
	crops       = []string{"wheat", "maize"}
	timePeriods = []string{"past", "future"}
	yesNo       = []string{"yes", "no"}
)

// decimal matches integer or decimal notation with an optional exponent.
var decimal = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

func oneOf(allowed []string, normalize func(string) string) Validator {
	return func(raw string) (any, bool) {
		v := normalize(strings.TrimSpace(raw))
		for _, a := range allowed {
			if v == a {
				return v, true
			}
		}
		return nil, false
	}
}

var (
	ValidateCrop       = oneOf(crops, strings.ToLower)
	ValidatePilot      = oneOf(Pilots, strings.ToUpper)
	ValidateTimePeriod = oneOf(timePeriods, strings.ToLower)
	ValidateYesNo      = oneOf(yesNo, strings.ToLower)
)

// ParseNumber accepts integer or decimal input and returns it as float64.
func ParseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if !decimal.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// ValidateNumber accepts any finite number.
func ValidateNumber(raw string) (any, bool) {
	f, ok := ParseNumber(raw)
	if !ok {
		return nil, false
	}
	return f, true
}

// ValidateProbability accepts numbers in the closed range [0, 1].
func ValidateProbability(raw string) (any, bool) {
	f, ok := ParseNumber(raw)
	if !ok || f < 0 || f > 1 {
		return nil, false
	}
	return f, true
}

// ValidateGeoJSON is a syntactic check only: a JSON object carrying a
// string "type" member. Geometry validity is not checked.
func ValidateGeoJSON(raw string) (any, bool) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "{") || !json.Valid([]byte(s)) {
		return nil, false
	}
	var obj struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj.Type == nil || *obj.Type == "" {
		return nil, false
	}
	return s, true
}
