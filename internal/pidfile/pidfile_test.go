package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, 9876))

	port, err := Read(dir)
	require.NoError(t, err)
	require.Equal(t, 9876, port)
}

func TestReadPIDReturnsCurrentProcess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, 9876))

	pid, err := ReadPID(dir)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)
}

func TestReadPIDErrorsOnPortOnlyPidfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(Path(dir), []byte("9876"), 0o600))

	_, err := ReadPID(dir)
	require.Error(t, err)

	port, err := Read(dir)
	require.NoError(t, err)
	require.Equal(t, 9876, port)
}

func TestReadMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(filepath.Join(dir, "nonexistent"))
	require.Error(t, err)
}

func TestRemoveToleratesAlreadyGone(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Remove(dir))
	require.NoError(t, Write(dir, 1234))
	require.NoError(t, Remove(dir))
	require.NoError(t, Remove(dir))
}
