package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 60 * time.Millisecond}

	d0 := Backoff(cfg, 0)
	assert.GreaterOrEqual(t, d0, 10*time.Millisecond)
	assert.Less(t, d0, 20*time.Millisecond)

	d3 := Backoff(cfg, 3) // 10ms * 2^3 = 80ms, capped to 60ms
	assert.GreaterOrEqual(t, d3, 60*time.Millisecond)
	assert.Less(t, d3, 70*time.Millisecond)
}

func TestCommitStatusString(t *testing.T) {
	assert.Equal(t, "OK", CommitOK.String())
	assert.Equal(t, "CONFLICT", CommitConflict.String())
	assert.Equal(t, "FATAL", CommitFatal.String())
}
