package wsserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fullClient returns a client whose send buffer is already saturated, to
// exercise the hub's drop-the-slow-client backpressure path without a
// real network connection.
func fullClient(id string) *client {
	c := &client{id: id, send: make(chan []byte, 1)}
	c.send <- []byte("already queued")
	return c
}

func TestEnqueueFailsWhenSendBufferFull(t *testing.T) {
	c := fullClient("slow")
	require.False(t, c.enqueue([]byte("overflow")))
}

func TestEnqueueSucceedsWithRoomInBuffer(t *testing.T) {
	c := &client{id: "fast", send: make(chan []byte, 1)}
	require.True(t, c.enqueue([]byte("hello")))
}

func TestDeliverDropsClientWithFullSendBuffer(t *testing.T) {
	h := newHub(testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.run(ctx)

	slow := fullClient("slow")
	h.register <- slow
	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)

	msg, err := newNotification(ActionSessionsList, nil)
	require.NoError(t, err)
	h.deliver(msg)

	require.Eventually(t, func() bool { return h.count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCloseAllEmptiesClientSet(t *testing.T) {
	h := newHub(testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go h.run(ctx)

	c := &client{id: "c1", send: make(chan []byte, 1)}
	h.register <- c
	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return h.count() == 0 }, time.Second, 5*time.Millisecond)
}
