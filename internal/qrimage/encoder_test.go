package qrimage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDeterministicPNG(t *testing.T) {
	enc := NewPNGEncoder(0)
	payload := `{"code":"SUMMER-20","businessId":"b1","type":"voucher"}`

	a, err := enc.Encode(payload)
	require.NoError(t, err)
	b, err := enc.Encode(payload)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(a, []byte("\x89PNG")))
	assert.Equal(t, a, b)
	assert.Equal(t, 256, enc.Size)
}
