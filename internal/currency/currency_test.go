package currency

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertIdentity(t *testing.T) {
	c := NewConverter(0, 0)
	assert.Equal(t, 100.0, c.Convert(100, INR, INR))
	assert.Equal(t, 55.5, c.Convert(55.5, USD, USD))
}

func TestConvertViaBase(t *testing.T) {
	c := NewConverter(DefaultUSDRate, DefaultNPRRate)

	assert.InDelta(t, 12.0, c.Convert(1000, INR, USD), 1e-9)
	assert.InDelta(t, 1600.0, c.Convert(1000, INR, NPR), 1e-9)
	// USD -> NPR goes through INR.
	assert.InDelta(t, 10.0/0.012*1.6, c.Convert(10, USD, NPR), 1e-9)
}

func TestConvertRoundTrip(t *testing.T) {
	c := NewConverter(0.012, 1.6)
	for _, x := range []float64{0.01, 1, 499, 12000.75, 1e6} {
		got := c.Convert(c.Convert(x, INR, USD), USD, INR)
		assert.InDelta(t, x, got, x*1e-9)
	}
}

func TestConvertNonFinite(t *testing.T) {
	c := NewConverter(0, 0)
	assert.Equal(t, 0.0, c.Convert(math.NaN(), INR, USD))
	assert.Equal(t, 0.0, c.Convert(math.Inf(1), USD, INR))
	assert.Equal(t, 0.0, c.Convert(math.Inf(-1), NPR, NPR))
}

func TestNewConverterRejectsBadRates(t *testing.T) {
	c := NewConverter(-1, math.NaN())
	assert.InDelta(t, DefaultUSDRate*100, c.Convert(100, INR, USD), 1e-9)
	assert.InDelta(t, DefaultNPRRate*100, c.Convert(100, INR, NPR), 1e-9)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, USD, Normalize("USD"))
	assert.Equal(t, NPR, Normalize("NPR"))
	assert.Equal(t, INR, Normalize("INR"))
	assert.Equal(t, INR, Normalize("GBP"))
	assert.Equal(t, INR, Normalize(""))
}
