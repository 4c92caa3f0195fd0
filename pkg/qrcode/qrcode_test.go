package qrcode_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafitos77/vipgate/pkg/qrcode"
)

func TestPNG(t *testing.T) {
	t.Parallel()

	t.Run("renders png bytes", func(t *testing.T) {
		t.Parallel()

		png, err := qrcode.PNG("00020126580014br.gov.bcb.pix0136abc", 256)
		require.NoError(t, err)
		require.NotEmpty(t, png)
		// PNG magic bytes.
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
	})

	t.Run("empty content", func(t *testing.T) {
		t.Parallel()

		_, err := qrcode.PNG("   ", 256)
		assert.ErrorIs(t, err, qrcode.ErrEmptyContent)
	})

	t.Run("defaults size when non-positive", func(t *testing.T) {
		t.Parallel()

		png, err := qrcode.PNG("pix-payload", 0)
		require.NoError(t, err)
		assert.NotEmpty(t, png)
	})
}

func TestDataURI(t *testing.T) {
	t.Parallel()

	uri, err := qrcode.DataURI("pix-payload", 128)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))

	_, err = qrcode.DataURI("", 128)
	assert.ErrorIs(t, err, qrcode.ErrEmptyContent)
}
