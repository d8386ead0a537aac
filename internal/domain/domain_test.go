package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSettingsDurations(t *testing.T) {
	s := Settings{LocationIntervalMinutes: 15, InactivityThresholdHours: 1.5}
	assert.Equal(t, 15*time.Minute, s.LocationInterval())
	assert.Equal(t, 90*time.Minute, s.InactivityThreshold())
}

func TestSettingsUpdateIsEmpty(t *testing.T) {
	interval := 5
	threshold := 2.0

	tests := []struct {
		name  string
		u     SettingsUpdate
		empty bool
	}{
		{"zero", SettingsUpdate{}, true},
		{"contacts without flag", SettingsUpdate{SOSContacts: []string{"+15551230001"}}, true},
		{"interval", SettingsUpdate{LocationIntervalMinutes: &interval}, false},
		{"threshold", SettingsUpdate{InactivityThresholdHours: &threshold}, false},
		{"clear contacts", SettingsUpdate{SetContacts: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.empty, tt.u.IsEmpty())
		})
	}
}

func TestAlertRecordDelivered(t *testing.T) {
	assert.True(t, AlertRecord{Contact: "+15551230001"}.Delivered())
	assert.False(t, AlertRecord{Contact: "+15551230001", Error: "webhook returned 502"}.Delivered())
}
