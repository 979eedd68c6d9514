package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTablePutGetDelete(t *testing.T) {
	tbl := NewTable()
	s := &Session{ID: "s1", Agent: "opencode", CreatedAt: time.Now()}
	tbl.Put(s)

	require.Equal(t, s, tbl.Get("s1"))
	require.Equal(t, 1, tbl.Len())

	tbl.Delete("s1")
	require.Nil(t, tbl.Get("s1"))
	require.Equal(t, 0, tbl.Len())
}

func TestTableSnapshotIsIndependentCopy(t *testing.T) {
	tbl := NewTable()
	tbl.Put(&Session{ID: "s1", SessionName: "original"})

	snap := tbl.Snapshot()
	require.Len(t, snap, 1)
	snap[0].SessionName = "mutated"

	require.Equal(t, "original", tbl.Get("s1").SessionName)
}
