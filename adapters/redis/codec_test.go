package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	t.Run("往返後資料一致", func(t *testing.T) {
		in := newBidPlaced(150)
		values, err := Encode(in)
		require.NoError(t, err)
		assert.Contains(t, values, PayloadField)

		out, err := Decode[bidPlaced](values)
		require.NoError(t, err)
		assert.Equal(t, in.AuctionID, out.AuctionID)
		assert.Equal(t, in.Amount, out.Amount)
		assert.True(t, in.PlacedAt.Equal(out.PlacedAt))
	})

	t.Run("指標類型會被拒絕", func(t *testing.T) {
		in := newBidPlaced(1)
		_, err := Encode(&in)
		assert.ErrorIs(t, err, ErrPointerType)

		_, err = Decode[*bidPlaced](map[string]any{PayloadField: ""})
		assert.ErrorIs(t, err, ErrPointerType)
	})

	t.Run("缺少 data 欄位", func(t *testing.T) {
		_, err := Decode[bidPlaced](map[string]any{"other": "x"})
		assert.ErrorIs(t, err, ErrMissingPayload)
	})

	t.Run("data 不是合法的 base64", func(t *testing.T) {
		_, err := Decode[bidPlaced](map[string]any{PayloadField: "%%%"})
		assert.ErrorContains(t, err, "base64 decode error")
	})
}
