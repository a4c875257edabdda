package auction

import "github.com/redis/go-redis/v9"

// 預先檢查的結果
const (
	precheckUnknown  = -1
	precheckRejected = 0
	precheckAccepted = 1
)

// PrecheckBidScript 以快取的目前價格快速拒絕過低的出價
//
//	KEYS[1] - 作品目前價格的快取鍵
//	ARGV[1] - 出價金額
//	ARGV[2] - 最低加價幅度
//
// 返回值: {狀態, 最低出價}
//
//	 1 - 出價不低於最低出價
//	 0 - 出價低於最低出價
//	-1 - 快取不存在
//
// 快取只用於提早拒絕，接受的出價仍然要在資料庫交易中重新驗證
var PrecheckBidScript = redis.NewScript(`
local cached = redis.call('GET', KEYS[1])
if not cached then
    return {-1, 0}
end

local minimum = tonumber(cached) + tonumber(ARGV[2])
if tonumber(ARGV[1]) < minimum then
    return {0, minimum}
end
return {1, minimum}
`)

// SetPriceScript 更新作品目前價格的快取
//
//	KEYS[1] - 作品目前價格的快取鍵
//	ARGV[1] - 價格
//	ARGV[2] - 快取存活時間(毫秒)
//
// 只有在快取不存在或新價格較高時才會寫入，避免較舊的讀取覆蓋較新的價格
//
// 返回值:
//
//	1 - 已寫入
//	0 - 快取中的價格較高，未寫入
var SetPriceScript = redis.NewScript(`
local cached = redis.call('GET', KEYS[1])
if cached and tonumber(cached) >= tonumber(ARGV[1]) then
    return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)
