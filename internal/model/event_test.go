package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "short", TruncateError("short"))
	assert.Equal(t, "", TruncateError(""))

	long := strings.Repeat("x", MaxLastErrorLen+100)
	assert.Len(t, TruncateError(long), MaxLastErrorLen)
}

func TestOutboxEventPending(t *testing.T) {
	ev := OutboxEvent{}
	assert.True(t, ev.Pending())

	now := time.Now().UTC()
	ev.ProcessedAt = &now
	assert.False(t, ev.Pending())
}
