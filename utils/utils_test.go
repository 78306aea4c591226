package utils

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	var m Mean
	assert.Zero(t, m.Value())
	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			m.Add(v)
		}(float64(i))
	}
	wg.Wait()
	assert.Equal(t, int64(4), m.Count())
	assert.InDelta(t, 2.5, m.Value(), 1e-9)
}

func TestLoggerDefaultArgs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriterLogger(&buf, slog.LevelInfo)
	ctx := WithDefaultArgs(context.Background(), "peer", "a")
	ctx = WithDefaultArgs(ctx, "seq", 7)

	log.InfoCtx(ctx, "applied", "commands", 3)
	log.Debug("hidden")
	out := buf.String()
	assert.Contains(t, out, `msg="[mirror] applied"`)
	assert.Contains(t, out, "commands=3 peer=a seq=7")
	assert.NotContains(t, out, "hidden")
}
