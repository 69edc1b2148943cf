package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{in: "", want: PriorityNormal},
		{in: "low", want: PriorityLow},
		{in: "HIGH", want: PriorityHigh},
		{in: " urgent ", want: PriorityUrgent},
		{in: "critical", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriority_UnmarshalText(t *testing.T) {
	var p Priority
	require.NoError(t, p.UnmarshalText([]byte("high")))
	assert.Equal(t, PriorityHigh, p)
	assert.False(t, Priority(9).Valid())
}
