package protocol

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequencerGapFreeAndZeroIndexed(t *testing.T) {
	s := NewSequencer()

	for i := 0; i < 5; i++ {
		evt := s.Create("sess-1", EventMessageDelta, MessageDeltaPayload{})
		require.Equal(t, uint64(i), evt.Sequence)
	}
}

func TestSequencerResetZeroesCounter(t *testing.T) {
	s := NewSequencer()
	s.Create("sess-1", EventMessageDelta, nil)
	s.Create("sess-1", EventMessageDelta, nil)

	s.Reset("sess-1")
	evt := s.Create("sess-1", EventSessionStarted, nil)
	require.Equal(t, uint64(0), evt.Sequence)
}

func TestSequencerIndependentPerSession(t *testing.T) {
	s := NewSequencer()
	s.Create("a", EventMessageDelta, nil)
	s.Create("a", EventMessageDelta, nil)
	evt := s.Create("b", EventMessageDelta, nil)
	require.Equal(t, uint64(0), evt.Sequence)
}

func TestSequencerConcurrentSessionsNoDuplicates(t *testing.T) {
	s := NewSequencer()
	const n = 200
	var wg sync.WaitGroup
	seen := make(chan uint64, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt := s.Create("shared", EventMessageDelta, nil)
			seen <- evt.Sequence
		}()
	}
	wg.Wait()
	close(seen)

	seqs := make(map[uint64]bool)
	for seq := range seen {
		require.False(t, seqs[seq], "duplicate sequence %d", seq)
		seqs[seq] = true
	}
	require.Len(t, seqs, n)
}
