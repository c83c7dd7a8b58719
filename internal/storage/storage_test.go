package storage

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesSparseFileOfFileSize(t *testing.T) {
	fs := afero.NewMemMapFs()
	a, err := Open(fs, "1001", "data.bin", 2500, 1000)
	require.NoError(t, err)
	defer a.Close()

	info, err := fs.Stat("1001/data.bin")
	require.NoError(t, err)
	assert.EqualValues(t, 2500, info.Size())
}

func TestLastPieceIsShort(t *testing.T) {
	fs := afero.NewMemMapFs()
	a, err := Open(fs, "1001", "data.bin", 2500, 1000)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 1000, a.PieceLength(0))
	assert.Equal(t, 1000, a.PieceLength(1))
	assert.Equal(t, 500, a.PieceLength(2))
}

func TestWriteThenReadPieceRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	a, err := Open(fs, "1001", "data.bin", 2500, 1000)
	require.NoError(t, err)
	defer a.Close()

	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	require.NoError(t, a.WritePiece(1, data))

	got, err := a.ReadPiece(1)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReopenDoesNotTruncateExistingData(t *testing.T) {
	fs := afero.NewMemMapFs()
	a, err := Open(fs, "1001", "data.bin", 2500, 1000)
	require.NoError(t, err)
	require.NoError(t, a.WritePiece(0, []byte("hello piece 0 .........")))
	require.NoError(t, a.Close())

	a2, err := Open(fs, "1001", "data.bin", 2500, 1000)
	require.NoError(t, err)
	defer a2.Close()

	got, err := a2.ReadPiece(0)
	require.NoError(t, err)
	assert.Contains(t, string(got), "hello piece 0")
}
