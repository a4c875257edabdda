package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{input: "", want: ModeAuto},
		{input: "auto", want: ModeAuto},
		{input: " Stream ", want: ModeStream},
		{input: "polling", want: ModePolling},
		{input: "websocket", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			mode, err := ParseMode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, mode)
		})
	}
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	assert.Equal(t, ModeStream, Select(ctx, ModeAuto, client, time.Second))
	assert.Equal(t, ModePolling, Select(ctx, ModePolling, client, time.Second))
	assert.Equal(t, ModePolling, Select(ctx, ModeAuto, nil, time.Second))

	mr.Close()
	assert.Equal(t, ModePolling, Select(ctx, ModeAuto, client, 200*time.Millisecond))
	assert.Equal(t, ModeStream, Select(ctx, ModeStream, client, time.Second))
}
