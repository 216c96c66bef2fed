package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewInterruptHandler(t *testing.T) {
	handler := NewInterruptHandler(nil)
	assert.NotNil(t, handler.writer)
	assert.False(t, handler.WasInterrupted())
}

func TestInterrupt_ShowsMessageOnce(t *testing.T) {
	var output bytes.Buffer
	handler := &InterruptHandler{writer: &output, hint: "No report was written."}

	handler.interrupt()
	handler.interrupt()

	assert.True(t, handler.WasInterrupted())
	out := output.String()
	assert.Equal(t, 1, strings.Count(out, "Deviation run interrupted!"))
	assert.Contains(t, out, "No report was written.")
}

func TestInterrupt_NoHint(t *testing.T) {
	var output bytes.Buffer
	handler := &InterruptHandler{writer: &output}
	handler.interrupt()
	assert.NotContains(t, output.String(), InfoIcon)
}

func TestHandleInterrupts_ParentCancelIsNotAnInterrupt(t *testing.T) {
	var output bytes.Buffer
	handler := NewInterruptHandler(&output)

	parent, cancel := context.WithCancel(context.Background())
	ctx := handler.HandleInterrupts(parent, "")

	select {
	case <-ctx.Done():
		t.Fatal("context should not be canceled initially")
	default:
	}

	cancel()
	<-ctx.Done()
	assert.False(t, handler.WasInterrupted())
	assert.Empty(t, output.String())
}
