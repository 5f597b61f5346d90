package observe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRangeAt(t *testing.T) {
	r := Range{From: 40, To: 50}

	assert.Equal(t, 40, r.At(0, 4))
	assert.Equal(t, 42, r.At(1, 4))
	assert.Equal(t, 45, r.At(2, 4))
	assert.Equal(t, 50, r.At(4, 4))
	assert.Equal(t, 50, r.At(9, 4))
	assert.Equal(t, 50, r.At(0, 0), "empty work is complete")
}

func TestRangeAtIsMonotonic(t *testing.T) {
	r := Range{From: 75, To: 85}
	last := r.From
	for i := 0; i <= 17; i++ {
		p := r.At(i, 17)
		assert.GreaterOrEqual(t, p, last)
		last = p
	}
	assert.Equal(t, 85, last)
}

type countingObserver struct {
	logs, progress, complete int
}

func (c *countingObserver) OnLog(string, Level, time.Time) { c.logs++ }
func (c *countingObserver) OnProgress(int)                 { c.progress++ }
func (c *countingObserver) OnInstallComplete(bool, string) { c.complete++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	m := Multi{a, nil, b}

	Logf(m, LevelInfo, "hello %s", "world")
	m.OnProgress(10)
	m.OnInstallComplete(true, "done")

	for _, c := range []*countingObserver{a, b} {
		assert.Equal(t, 1, c.logs)
		assert.Equal(t, 1, c.progress)
		assert.Equal(t, 1, c.complete)
	}
}

func TestOrNop(t *testing.T) {
	assert.IsType(t, Nop{}, OrNop(nil))
	c := &countingObserver{}
	assert.Same(t, c, OrNop(c))
	Logf(nil, LevelInfo, "ignored")
}
