package ledger

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"artbid/models"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)

	// 記憶體資料庫只存在於單一連線中
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

func setupLedger(t *testing.T) (*Ledger, *gorm.DB) {
	db := setupDB(t)
	return New(db, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))), db
}

// createWinningAuction 建立一件由 userID 得標中的進行中拍賣
func createWinningAuction(t *testing.T, db *gorm.DB, userID uuid.UUID, price int64) *models.Artwork {
	t.Helper()
	end := time.Now().Add(time.Hour)
	artwork := &models.Artwork{
		ArtistID:        uuid.New(),
		Title:           "test artwork",
		SaleType:        models.SaleTypeAuction,
		CurrentPrice:    price,
		AuctionEndTime:  &end,
		HighestBidderID: &userID,
		BidCount:        1,
		Status:          models.ArtworkStatusActive,
	}
	require.NoError(t, db.Create(artwork).Error)
	return artwork
}
