package zip

import (
	zipreader "archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveRoundTrip(t *testing.T) {
	assets := []Asset{
		{Filename: "001_first.png", MIME: "image/png", Data: bytes.Repeat([]byte("aaaa"), 256)},
		{Filename: "002_second.png", MIME: "image/png", Data: []byte("second payload")},
		{Filename: "003_third.gif", MIME: "image/gif", Data: []byte{0x47, 0x49, 0x46}},
	}

	blob, err := Archive(assets)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	zr, err := zipreader.NewReader(bytes.NewReader(blob), int64(len(blob)))
	require.NoError(t, err)
	require.Len(t, zr.File, len(assets))

	for i, asset := range assets {
		entry := zr.File[i]
		assert.Equal(t, asset.Filename, entry.Name)

		rc, err := entry.Open()
		require.NoError(t, err)
		payload, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, asset.Data, payload)
	}
}

func TestArchiveCompressesRepetitiveData(t *testing.T) {
	raw := bytes.Repeat([]byte("emoticon"), 4096)
	blob, err := Archive([]Asset{{Filename: "big.bin", Data: raw}})
	require.NoError(t, err)
	assert.Less(t, len(blob), len(raw))
}

func TestArchiveEmptyInput(t *testing.T) {
	blob, err := Archive(nil)
	require.NoError(t, err)

	zr, err := zipreader.NewReader(bytes.NewReader(blob), int64(len(blob)))
	require.NoError(t, err)
	assert.Empty(t, zr.File)
}
