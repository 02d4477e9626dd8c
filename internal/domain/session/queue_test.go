package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaic-run/meshrt/internal/domain/mesh"
)

func TestFIFO_PushPopOrder(t *testing.T) {
	f := newFIFO()
	f.push(mesh.Event{EventType: "1"})
	f.push(mesh.Event{EventType: "2"})
	f.push(mesh.Event{EventType: "3"})

	for _, want := range []string{"1", "2", "3"} {
		ev, ok := f.pop()
		require.True(t, ok)
		assert.Equal(t, want, ev.EventType)
	}
}

func TestFIFO_PopBlocksUntilPush(t *testing.T) {
	f := newFIFO()
	done := make(chan mesh.Event, 1)
	go func() {
		ev, ok := f.pop()
		if ok {
			done <- ev
		}
	}()

	time.Sleep(20 * time.Millisecond)
	f.push(mesh.Event{EventType: "late"})

	select {
	case ev := <-done:
		assert.Equal(t, "late", ev.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("pop never returned after push")
	}
}

func TestFIFO_CloseUnblocksPop(t *testing.T) {
	f := newFIFO()
	done := make(chan bool, 1)
	go func() {
		_, ok := f.pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	f.close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("pop never unblocked after close")
	}
}

func TestFIFO_PushAfterCloseIsDropped(t *testing.T) {
	f := newFIFO()
	f.close()
	f.push(mesh.Event{EventType: "dropped"})
	_, ok := f.pop()
	assert.False(t, ok)
}
