package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetentionHours(t *testing.T) {
	cases := []struct {
		name      string
		retention time.Duration
		want      int32
	}{
		{"whole hours", 24 * time.Hour, 24},
		{"rounds down", 90 * time.Minute, 1},
		{"sub-hour holds the floor", 10 * time.Minute, 1},
		{"zero holds the floor", 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, retentionHours(tc.retention))
		})
	}
}
