// Package premium 提供落槌價與買方佣金之間的換算
//
// 所有金額皆為最小貨幣單位的整數(韓元沒有小數單位)，運算過程使用十進位精確運算並一律無條件捨去，
// 不會使用浮點數。
package premium

import (
	"github.com/shopspring/decimal"
)

// DefaultRate 為設定值不合法時使用的買方佣金率
var DefaultRate = decimal.New(1, -1)

var one = decimal.NewFromInt(1)

// ParseRate 解析設定中的買方佣金率，無法解析或不在 [0, 1] 範圍內時回傳 DefaultRate
func ParseRate(s string) decimal.Decimal {
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return DefaultRate
	}
	return NormalizeRate(rate)
}

// NormalizeRate 將不在 [0, 1] 範圍內的佣金率替換成 DefaultRate
func NormalizeRate(rate decimal.Decimal) decimal.Decimal {
	if rate.IsNegative() || rate.GreaterThan(one) {
		return DefaultRate
	}
	return rate
}

// HammerPrice 由含佣金的出價總額反推落槌價: floor(totalBid / (1 + rate))
// 佣金率為負時原樣回傳 totalBid
func HammerPrice(totalBid int64, rate decimal.Decimal) int64 {
	if rate.IsNegative() {
		return totalBid
	}
	if totalBid <= 0 {
		return 0
	}
	// QuoRem 在精度 0 時給出精確的整數商，兩數皆為正所以等同 floor
	q, _ := decimal.NewFromInt(totalBid).QuoRem(one.Add(rate), 0)
	return q.IntPart()
}

// BuyerPremium 計算落槌價對應的買方佣金: floor(hammerPrice * rate)
func BuyerPremium(hammerPrice int64, rate decimal.Decimal) int64 {
	if hammerPrice <= 0 || rate.IsNegative() {
		return 0
	}
	return decimal.NewFromInt(hammerPrice).Mul(rate).Floor().IntPart()
}

// TotalBid 計算落槌價加上買方佣金後的出價總額
func TotalBid(hammerPrice int64, rate decimal.Decimal) int64 {
	return hammerPrice + BuyerPremium(hammerPrice, rate)
}

// Breakdown 為出價總額拆分後的結果
// TotalBid 是以 HammerPrice + BuyerPremium 重新計算的總額，因為無條件捨去可能小於原始輸入，
// 顯示時應使用這個值
type Breakdown struct {
	HammerPrice  int64 `json:"hammerPrice"`
	BuyerPremium int64 `json:"buyerPremium"`
	TotalBid     int64 `json:"totalBid"`
}

// Split 將出價總額拆分為落槌價與買方佣金
func Split(totalBid int64, rate decimal.Decimal) Breakdown {
	hammer := HammerPrice(totalBid, rate)
	fee := BuyerPremium(hammer, rate)
	return Breakdown{
		HammerPrice:  hammer,
		BuyerPremium: fee,
		TotalBid:     hammer + fee,
	}
}

// Calculator 綁定一個固定佣金率的換算器
type Calculator struct {
	rate decimal.Decimal
}

// NewCalculator 建立換算器，不合法的佣金率會被替換成 DefaultRate
func NewCalculator(rate decimal.Decimal) Calculator {
	return Calculator{rate: NormalizeRate(rate)}
}

// Rate 回傳換算器使用的佣金率
func (c Calculator) Rate() decimal.Decimal { return c.rate }

// HammerPrice 由含佣金的出價換算落槌價
func (c Calculator) HammerPrice(totalBid int64) int64 { return HammerPrice(totalBid, c.rate) }

// BuyerPremium 計算落槌價對應的買方佣金
func (c Calculator) BuyerPremium(hammer int64) int64 { return BuyerPremium(hammer, c.rate) }

// TotalBid 計算落槌價加上佣金後的總額
func (c Calculator) TotalBid(hammer int64) int64 { return TotalBid(hammer, c.rate) }

// Breakdown 將含佣金的出價拆成落槌價與佣金
func (c Calculator) Breakdown(totalBid int64) Breakdown {
	return Split(totalBid, c.rate)
}
