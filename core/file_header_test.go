package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerHeader(t *testing.T) {
	var buf bytes.Buffer
	h := NewContainerHeader(CompressionZSTD)
	n, err := h.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(ContainerHeaderSize), n)
	assert.Equal(t, ContainerHeaderSize, buf.Len())

	got, err := ReadContainerHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, h.CreatedAt, got.Created().UnixNano())

	t.Run("bad magic", func(t *testing.T) {
		raw := bytes.Clone(buf.Bytes())
		raw[0] ^= 0xFF
		_, err := ReadContainerHeader(bytes.NewReader(raw))
		assert.ErrorContains(t, err, "bad magic")
	})

	t.Run("unknown codec", func(t *testing.T) {
		bad := h
		bad.Codec = CompressionType(9)
		assert.ErrorContains(t, bad.Validate(), "unknown codec")
	})

	t.Run("short input", func(t *testing.T) {
		_, err := ReadContainerHeader(bytes.NewReader(buf.Bytes()[:3]))
		assert.Error(t, err)
	})
}
