package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReminderStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from ReminderStatus
		to   ReminderStatus
		want bool
	}{
		{"scheduled to completed", ReminderStatusScheduled, ReminderStatusCompleted, true},
		{"scheduled to failed", ReminderStatusScheduled, ReminderStatusFailed, true},
		{"scheduled to cancelled", ReminderStatusScheduled, ReminderStatusCancelled, true},
		{"scheduled to scheduled", ReminderStatusScheduled, ReminderStatusScheduled, false},
		{"completed to cancelled", ReminderStatusCompleted, ReminderStatusCancelled, false},
		{"cancelled to scheduled", ReminderStatusCancelled, ReminderStatusScheduled, false},
		{"failed to completed", ReminderStatusFailed, ReminderStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestRecurrenceIsEmpty(t *testing.T) {
	var nilRec *Recurrence
	assert.True(t, nilRec.IsEmpty())
	assert.True(t, (&Recurrence{}).IsEmpty())
	assert.False(t, (&Recurrence{Type: RecurrenceDaily}).IsEmpty())
	assert.False(t, (&Recurrence{Days: []string{"monday"}}).IsEmpty())
}
