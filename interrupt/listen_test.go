//go:build linux || darwin

package interrupt

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListen(t *testing.T) {
	s := New()
	stop := s.Listen(syscall.SIGUSR1)
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	select {
	case sig := <-s.C():
		assert.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("signal was not delivered")
	}
}
