package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnumValidatorsNormalizeCase(t *testing.T) {
	tests := []struct {
		name     string
		validate Validator
		input    string
		want     any
		ok       bool
	}{
		{"crop lower", ValidateCrop, "wheat", "wheat", true},
		{"crop mixed", ValidateCrop, "  MaIzE ", "maize", true},
		{"crop unknown", ValidateCrop, "rice", nil, false},
		{"pilot lower", ValidatePilot, "pilot_pilsen", "PILOT_PILSEN", true},
		{"pilot country", ValidatePilot, "greece", "GREECE", true},
		{"pilot unknown", ValidatePilot, "PILOT_ATHENS", nil, false},
		{"period", ValidateTimePeriod, "Future", "future", true},
		{"period unknown", ValidateTimePeriod, "present", nil, false},
		{"yes", ValidateYesNo, "YES", "yes", true},
		{"y is not yes", ValidateYesNo, "y", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.validate(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateNumber(t *testing.T) {
	accepted := map[string]float64{
		"3":      3,
		"-2":     -2,
		"1.5":    1.5,
		" 18.5 ": 18.5,
		".25":    0.25,
		"8e5":    800000,
		"2.":     2,
	}
	for in, want := range accepted {
		got, ok := ValidateNumber(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "abc", "1,5", "inf", "NaN", "0x10", "1.2.3", "5 km"} {
		_, ok := ValidateNumber(in)
		assert.False(t, ok, in)
	}
}

func TestValidateProbability(t *testing.T) {
	for _, in := range []string{"0", "1", "0.78", "1.0"} {
		_, ok := ValidateProbability(in)
		assert.True(t, ok, in)
	}
	for _, in := range []string{"-0.1", "1.01", "2", "half"} {
		_, ok := ValidateProbability(in)
		assert.False(t, ok, in)
	}
}

func TestValidateGeoJSON(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`, true},
		{`  {"type": "FeatureCollection", "features": []}`, true},
		{`{"coordinates":[]}`, false},
		{`{"type":1}`, false},
		{`{"type":"Polygon"`, false},
		{`[{"type":"Polygon"}]`, false},
		{`Polygon`, false},
	}

	for _, tt := range tests {
		_, ok := ValidateGeoJSON(tt.input)
		assert.Equal(t, tt.ok, ok, tt.input)
	}
}
