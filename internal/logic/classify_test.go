package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBoundaries(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		watts float64
		want  State
	}{
		{-5, StateArret},
		{0, StateArret},
		{9.99, StateArret},
		{10, StateNuit},
		{39.9, StateNuit},
		{40, StatePompe},
		{79.9, StatePompe},
		{80, StatePrechauffage},
		{199.9, StatePrechauffage},
		{200, StatePostcirc},
		{399.9, StatePostcirc},
		{400, StateBurn},
		{1500, StateBurn},
		{2000, StateBurn},
		{2000.1, StateHorsPlage},
		{1e9, StateHorsPlage},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.watts, th), "watts=%v", tt.watts)
	}
}

func TestClassifyMonotonic(t *testing.T) {
	tables := []Thresholds{
		DefaultThresholds(),
		{Arret: 1, Nuit: 2, Pompe: 3, Prechauffage: 4, Postcirc: 5, BurnMax: 6},
		{Arret: 5, Nuit: 50, Pompe: 120, Prechauffage: 250, Postcirc: 600, BurnMax: 3500},
	}

	for _, th := range tables {
		require.NoError(t, th.Validate())
		prev := -1
		for w := -10.0; w <= 4000; w += 0.25 {
			s := Classify(w, th)
			idx := s.Index()
			require.GreaterOrEqual(t, idx, 0, "unknown state %q at %v W", s, w)
			assert.GreaterOrEqual(t, idx, prev, "state index went backwards at %v W", w)
			prev = idx
		}
		assert.Equal(t, StateHorsPlage.Index(), prev)
	}
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	equal := DefaultThresholds()
	equal.Pompe = equal.Nuit
	assert.ErrorIs(t, equal.Validate(), ErrInvalidThresholds)

	decreasing := DefaultThresholds()
	decreasing.BurnMax = 300
	assert.ErrorIs(t, decreasing.Validate(), ErrInvalidThresholds)
}

func TestPowerSampleWatts(t *testing.T) {
	assert.Equal(t, 0.0, PowerSample{Value: 1234, Valid: false}.Watts())
	assert.Equal(t, 1234.0, PowerSample{Value: 1234, Valid: true}.Watts())
}

func TestStateIdle(t *testing.T) {
	for _, s := range States {
		want := s == StateArret || s == StateNuit
		assert.Equal(t, want, s.Idle(), "state %s", s)
	}
	assert.Equal(t, -1, State("bogus").Index())
}
