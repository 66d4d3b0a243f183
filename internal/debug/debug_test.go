package debug

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func saveAndRestoreState() func() {
	originalDebug := EnableDebug
	originalOutput := output
	return func() {
		EnableDebug = originalDebug
		output = originalOutput
	}
}

func TestEnabled(t *testing.T) {
	defer saveAndRestoreState()()

	EnableDebug = "false"
	t.Setenv("FORGECACHE_DEBUG", "")
	assert.False(t, Enabled())

	EnableDebug = "true"
	assert.True(t, Enabled())

	EnableDebug = "false"
	t.Setenv("FORGECACHE_DEBUG", "1")
	assert.True(t, Enabled())
}

func TestLogWritesComponentTaggedLine(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	EnableDebug = "true"

	Log("TEST", "hello %s", "world")

	out := buf.String()
	assert.Contains(t, out, "[TEST]")
	assert.Contains(t, out, "hello world")
}

func TestLogSuppressedWhenDisabled(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	EnableDebug = "false"
	t.Setenv("FORGECACHE_DEBUG", "")

	Log("TEST", "should not appear")

	assert.Empty(t, buf.String())
}

func TestLogNoopWithNilWriter(t *testing.T) {
	defer saveAndRestoreState()()

	SetOutput(nil)
	EnableDebug = "true"

	Log("TEST", "no panic expected")
}

func TestConcurrentLogging(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	EnableDebug = "true"

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			Log("CONCURRENT", "message from goroutine %d", id)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
