package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoardOf(t *testing.T) {
	tests := []struct {
		code string
		want Board
	}{
		{"600519", BoardMain},
		{"601012", BoardMain},
		{"603288", BoardMain},
		{"605117", BoardMain},
		{"000001", BoardMain},
		{"001979", BoardMain},
		{"688041", BoardSTAR},
		{"300750", BoardChiNext},
		{"301236", BoardChiNext},
		{"430047", BoardBeijing},
		{"830799", BoardBeijing},
		{"871981", BoardBeijing},
		{"920002", BoardBeijing},
		{"200596", BoardUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, BoardOf(tt.code))
		})
	}
}

func TestLimitPct(t *testing.T) {
	assert.Equal(t, 0.10, BoardOf("600519").LimitPct())
	assert.Equal(t, 0.20, BoardOf("688041").LimitPct())
	assert.Equal(t, 0.20, BoardOf("300750").LimitPct())
	assert.Equal(t, 0.30, BoardOf("920002").LimitPct())
	// Unknown prefixes fall back to the main-board limit
	assert.Equal(t, 0.10, BoardUnknown.LimitPct())
}

func TestLimitUpCeiling(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		prevClose float64
		want      float64
	}{
		{"main board rounds to cents", "600519", 1800.00, 1980.00},
		{"main board odd price", "600000", 7.77, 8.55},       // 8.547 -> 8.55
		{"chinext 20 percent", "300750", 100.00, 120.00},
		{"star 20 percent rounding", "688041", 55.55, 66.66},  // 66.66
		{"beijing 30 percent", "920002", 10.00, 13.00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, LimitUpCeiling(tt.code, tt.prevClose), 1e-9)
		})
	}
}

func TestAtLimitUpBoundary(t *testing.T) {
	// Ceiling for 600519 at prev close 1800.00 is 1980.00.
	// A price within PriceEpsilon of the ceiling is limit-up; 0.001 below
	// the tolerance band is not.
	assert.True(t, AtLimitUp("600519", 1980.00, 1800.00))
	assert.True(t, AtLimitUp("600519", 1979.999, 1800.00))
	assert.False(t, AtLimitUp("600519", 1979.997, 1800.00))
	assert.False(t, AtLimitUp("600519", 1900.00, 1800.00))

	// Zero prev close never qualifies
	assert.False(t, AtLimitUp("600519", 10.0, 0))
}

func TestAtLimitDownBoundary(t *testing.T) {
	// Floor for 600519 at prev close 100.00 is 90.00
	assert.True(t, AtLimitDown("600519", 90.00, 100.00))
	assert.True(t, AtLimitDown("600519", 90.0009, 100.00))
	assert.False(t, AtLimitDown("600519", 90.01, 100.00))
}

func TestIsValidCode(t *testing.T) {
	assert.True(t, IsValidCode("600519"))
	assert.True(t, IsValidCode("000001"))
	assert.False(t, IsValidCode("60051"))
	assert.False(t, IsValidCode("6005199"))
	assert.False(t, IsValidCode("60051a"))
	assert.False(t, IsValidCode(""))
	assert.False(t, IsValidCode("sh600519"))
}
