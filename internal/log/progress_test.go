package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_RendersBarAndFinish(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker("simulate", &buf)
	tr.throttle = 0

	tr.Update(1, 4)
	tr.Update(4, 4)
	tr.Finish()

	out := buf.String()
	assert.Contains(t, out, "simulate [")
	assert.Contains(t, out, "1/4")
	assert.Contains(t, out, "4/4 (100.0%)")
	assert.Contains(t, out, "completed (4 steps")
}

func TestTracker_NilWriterIsNoop(t *testing.T) {
	tr := NewTracker("simulate", nil)
	tr.Update(1, 2)
	tr.Finish()
	tr.Fail("boom")
}

func TestTracker_FinishOnlyOnce(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker("simulate", &buf)

	tr.Finish()
	before := buf.Len()
	tr.Finish()
	tr.Fail("late")

	assert.Equal(t, before, buf.Len(), "terminal states render once")
}

func TestTracker_ThrottleSkipsIntermediateDraws(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker("simulate", &buf)

	tr.Update(1, 100)
	first := buf.Len()
	tr.Update(2, 100) // inside the throttle window
	assert.Equal(t, first, buf.Len())

	tr.Update(100, 100) // final step always draws
	assert.Greater(t, buf.Len(), first)
}
