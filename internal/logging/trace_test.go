package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tis24dev/backupguard/internal/types"
)

func TestTimed(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelDebug, false)
	logger.SetOutput(&buf)

	done := Timed(logger, "restore", "id=%s", "b1")
	done(nil)
	assert.Contains(t, buf.String(), "Start restore: id=b1")
	assert.Contains(t, buf.String(), "End restore after")

	buf.Reset()
	Timed(logger, "verify", "")(errors.New("boom"))
	assert.Contains(t, buf.String(), "Start verify\n")
	assert.Contains(t, buf.String(), ": boom")

	assert.NotPanics(t, func() { Timed(nil, "x", "")(nil) })
}
