package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

func TestFloorToStep(t *testing.T) {
	assert.True(t, FloorToStep(d("0.01239"), d("0.001")).Equal(d("0.012")))
	assert.True(t, FloorToStep(d("5"), d("0")).Equal(d("5")))
	assert.True(t, FloorToStep(d("99.99"), d("1")).Equal(d("99")))
}

func TestRoundToTick(t *testing.T) {
	assert.True(t, RoundToTick(d("42000.26"), d("0.1")).Equal(d("42000.3")))
	assert.True(t, RoundToTick(d("1.2345"), d("0.005")).Equal(d("1.235")))
}

func TestSnapStopMovesAwayFromMarket(t *testing.T) {
	assert.True(t, SnapStop(model.SideLong, d("98.057"), d("0.01")).Equal(d("98.05")))
	assert.True(t, SnapStop(model.SideShort, d("102.051"), d("0.01")).Equal(d("102.06")))
}

func TestStopLossPrice(t *testing.T) {
	long, err := StopLossPrice(model.SideLong, d("100"), d("2"))
	require.NoError(t, err)
	assert.True(t, long.Equal(d("98")))

	short, err := StopLossPrice(model.SideShort, d("100"), d("2"))
	require.NoError(t, err)
	assert.True(t, short.Equal(d("102")))

	_, err = StopLossPrice(model.Side("buy"), d("100"), d("2"))
	assert.Error(t, err)
	_, err = StopLossPrice(model.NormalizeSide("BUY"), d("100"), d("2"))
	assert.NoError(t, err)
}
