package multipart

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePartsFraming(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WritePart([]byte("file-one")))
	require.NoError(t, w.WritePart([]byte("file-two")))
	require.NoError(t, w.Close())

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "--boundary\r\nContent-Type: application/dicom\r\nContent-Length: 8\r\n\r\nfile-one\r\n"))
	assert.True(t, strings.HasSuffix(out, "--boundary--"))
	assert.Equal(t, 2, strings.Count(out, "Content-Type: application/dicom"))
}

func TestCloseWithoutPartsWritesNoTerminalBoundary(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Close())
	assert.Empty(t, buf.String())
}
