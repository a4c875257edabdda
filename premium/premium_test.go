package premium

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  decimal.Decimal
	}{
		{name: "ten percent", input: "0.1", want: decimal.RequireFromString("0.1")},
		{name: "zero", input: "0", want: decimal.Zero},
		{name: "upper bound", input: "1", want: decimal.NewFromInt(1)},
		{name: "negative falls back", input: "-0.2", want: DefaultRate},
		{name: "above one falls back", input: "1.5", want: DefaultRate},
		{name: "garbage falls back", input: "ten", want: DefaultRate},
		{name: "empty falls back", input: "", want: DefaultRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(ParseRate(tt.input)), "got %s", ParseRate(tt.input))
		})
	}
}

func TestHammerPrice(t *testing.T) {
	rate := decimal.RequireFromString("0.1")
	tests := []struct {
		name     string
		totalBid int64
		rate     decimal.Decimal
		want     int64
	}{
		{name: "exact division", totalBid: 110_000, rate: rate, want: 100_000},
		{name: "floors remainder", totalBid: 120_000, rate: rate, want: 109_090},
		{name: "one unit", totalBid: 1, rate: rate, want: 0},
		{name: "zero", totalBid: 0, rate: rate, want: 0},
		{name: "negative clamps to zero", totalBid: -5_000, rate: rate, want: 0},
		{name: "negative rate is a no-op", totalBid: 120_000, rate: decimal.RequireFromString("-0.1"), want: 120_000},
		{name: "zero rate", totalBid: 120_000, rate: decimal.Zero, want: 120_000},
		{name: "repeating divisor", totalBid: 1_000_000, rate: decimal.RequireFromString("0.15"), want: 869_565},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HammerPrice(tt.totalBid, tt.rate))
		})
	}
}

func TestBuyerPremiumAndTotal(t *testing.T) {
	rate := decimal.RequireFromString("0.1")

	assert.Equal(t, int64(10_000), BuyerPremium(100_000, rate))
	assert.Equal(t, int64(10_909), BuyerPremium(109_099, rate))
	assert.Equal(t, int64(0), BuyerPremium(0, rate))
	assert.Equal(t, int64(0), BuyerPremium(-1, rate))
	assert.Equal(t, int64(0), BuyerPremium(100_000, decimal.RequireFromString("-0.1")))

	assert.Equal(t, int64(110_000), TotalBid(100_000, rate))
	assert.Equal(t, int64(9), TotalBid(9, rate))
}

func TestSplit(t *testing.T) {
	rate := decimal.RequireFromString("0.1")

	b := Split(120_000, rate)
	assert.Equal(t, Breakdown{HammerPrice: 109_090, BuyerPremium: 10_909, TotalBid: 119_999}, b)

	b = Split(110_000, rate)
	assert.Equal(t, Breakdown{HammerPrice: 100_000, BuyerPremium: 10_000, TotalBid: 110_000}, b)
}

// 無條件捨去永遠不會讓重新計算的總額超過原始輸入
func TestSplitNeverInflates(t *testing.T) {
	rates := []string{"0", "0.01", "0.1", "0.125", "0.15", "0.333", "0.5", "0.99", "1"}
	for _, r := range rates {
		rate := decimal.RequireFromString(r)
		for total := int64(0); total <= 20_000; total += 7 {
			b := Split(total, rate)
			if !assert.LessOrEqual(t, b.TotalBid, total, "rate=%s total=%d", r, total) {
				return
			}
			assert.GreaterOrEqual(t, b.HammerPrice, int64(0))
			assert.GreaterOrEqual(t, b.BuyerPremium, int64(0))
		}
		for _, total := range []int64{999_999_999, 1_234_567_890_123, 110_000, 120_000} {
			assert.LessOrEqual(t, Split(total, rate).TotalBid, total, "rate=%s total=%d", r, total)
		}
	}
}

func TestCalculator(t *testing.T) {
	calc := NewCalculator(decimal.RequireFromString("2"))
	assert.True(t, DefaultRate.Equal(calc.Rate()))

	calc = NewCalculator(decimal.RequireFromString("0.1"))
	assert.Equal(t, int64(100_000), calc.HammerPrice(110_000))
	assert.Equal(t, int64(10_000), calc.BuyerPremium(100_000))
	assert.Equal(t, int64(110_000), calc.TotalBid(100_000))
	assert.Equal(t, Split(120_000, calc.Rate()), calc.Breakdown(120_000))
}
