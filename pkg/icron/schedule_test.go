package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo(t *testing.T) {
	ref := time.Date(2024, 9, 22, 10, 0, 30, 0, time.UTC)

	tests := []struct {
		expr string
		next time.Time
	}{
		{expr: "@every 1m", next: ref.Add(time.Minute)},
		{expr: "*/5 * * * *", next: time.Date(2024, 9, 22, 10, 5, 0, 0, time.UTC)},
		{expr: "0 * * * * *", next: time.Date(2024, 9, 22, 10, 1, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			info, err := GetTriggerInfo(tt.expr, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.next, info.Next)
			assert.Equal(t, tt.next.Sub(ref), info.TimeUntilNext)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("every minute")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}
