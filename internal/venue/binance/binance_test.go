package binance

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSymbol(t *testing.T) {
	assert.Equal(t, "ETHUSDT", toSymbol("ETH/USDT"))
	assert.Equal(t, "ETHUSDT", toSymbol("eth-usdt"))
	assert.Equal(t, "BTCUSDT", toSymbol(" BTCUSDT "))
}

func TestFloatRoundTrip(t *testing.T) {
	assert.Equal(t, 1.0970, parseFloat("1.0970"))
	assert.Equal(t, 0.0, parseFloat("not a number"))
	assert.Equal(t, "0.001", formatFloat(0.001))
}

func TestClientOrderIDCarriesTag(t *testing.T) {
	id := clientOrderID(30701)
	assert.True(t, strings.HasPrefix(id, "tandem-30701-"))
}

func TestConfigDefaults(t *testing.T) {
	v, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, v.cfg.HTTPTimeout)

	_, err = New(Config{ProxyURL: "://bad"})
	assert.Error(t, err)
}
