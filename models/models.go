package models

// All 回傳所有需要建立資料表的模型，供遷移與 schema 匯出使用
func All() []any {
	return []any{
		&Artwork{},
		&Bid{},
		&Balance{},
		&BalanceTransaction{},
		&Order{},
	}
}
