package math

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedPoint(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"TestFloatToBps", testFloatToBps},
		{"TestMulBps", testMulBps},
		{"TestMulBpsCeil", testMulBpsCeil},
		{"TestRatioPPM", testRatioPPM},
		{"TestFlashLoanFee", testFlashLoanFee},
		{"TestParseAmount", testParseAmount},
		{"TestFormatUnits", testFormatUnits},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testFloatToBps(t *testing.T) {
	assert.Equal(t, int64(11000), FloatToBps(1.1))
	assert.Equal(t, int64(12000), FloatToBps(1.2))
	assert.Equal(t, int64(500), FloatToBps(0.05))
}

func testMulBps(t *testing.T) {
	assert.Equal(t, "110", MulBps(big.NewInt(100), 11000).String())
	assert.Equal(t, "0", MulBps(big.NewInt(1), 5000).String())
}

func testMulBpsCeil(t *testing.T) {
	// 150001 * 1.1 = 165001.1 -> 165002
	assert.Equal(t, "165002", MulBpsCeil(big.NewInt(150001), 11000).String())
	assert.Equal(t, "165000", MulBpsCeil(big.NewInt(150000), 11000).String())
}

func testRatioPPM(t *testing.T) {
	assert.Equal(t, int64(100_000), RatioPPM(big.NewInt(1), big.NewInt(10)))
	assert.Equal(t, int64(0), RatioPPM(big.NewInt(1), big.NewInt(0)))
}

func testFlashLoanFee(t *testing.T) {
	// 0.09% of 10 ETH
	amount, _ := new(big.Int).SetString("10000000000000000000", 10)
	assert.Equal(t, "9000000000000000", CalculateFlashLoanFee(amount, 9).String())
	assert.Equal(t, "1", CalculateFlashLoanFee(big.NewInt(1), 9).String())
	assert.Equal(t, "0", CalculateFlashLoanFee(amount, 0).String())
}

func testParseAmount(t *testing.T) {
	v, err := ParseAmount("0.01 ether")
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", v.String())

	v, err = ParseAmount("50 gwei")
	require.NoError(t, err)
	assert.Equal(t, "50000000000", v.String())

	v, err = ParseAmount("12345")
	require.NoError(t, err)
	assert.Equal(t, "12345", v.String())

	_, err = ParseAmount("1.5")
	assert.Error(t, err)

	_, err = ParseAmount("3 parsecs")
	assert.Error(t, err)
}

func testFormatUnits(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", FormatEther(v))
	assert.Equal(t, "0", FormatEther(nil))
}
