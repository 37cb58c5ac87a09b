package interrupt

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotifyCoalesces(t *testing.T) {
	s := New()
	assert.True(t, s.Notify())
	assert.False(t, s.Notify())
	assert.False(t, s.Notify())

	select {
	case sig := <-s.C():
		assert.Equal(t, os.Interrupt, sig)
	default:
		t.Fatal("expected a pending stop request")
	}
	select {
	case <-s.C():
		t.Fatal("repeated notifications must not queue up")
	default:
	}

	// consumed, so the next one is stored again
	assert.True(t, s.Notify())
}

func TestNotifyNeverBlocks(t *testing.T) {
	s := New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			s.Notify()
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
	assert.Len(t, s.c, 1)
}
