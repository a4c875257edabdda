package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"artbid/models"
)

const (
	testIssuer   = "artbid-test"
	testAudience = "artbid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	impl       *ServerImpl
	router     *gin.Engine
	db         *gorm.DB
	mr         *miniredis.Miniredis
	privateKey ed25519.PrivateKey
}

func setupServer(t *testing.T, mutate ...func(*ServerConfig)) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	config := ServerConfig{
		ID:          "test",
		Environment: "test",
		Redis:       RedisConfig{KeyPrefix: "test:"},
		Auth: AuthConfig{
			PublicKey:   publicKey,
			Issuer:      testIssuer,
			Audience:    testAudience,
			SettleToken: "settle-secret",
		},
		Auction: AuctionConfig{PremiumRate: "0.1"},
		Notify:  NotifyConfig{Mode: "polling", PollInterval: 10 * time.Millisecond},
	}
	for _, fn := range mutate {
		fn(&config)
	}

	impl, err := newServer(db, client, config)
	require.NoError(t, err)
	t.Cleanup(func() {
		impl.Close()
		client.Close()
		sqlDB.Close()
	})

	router := gin.New()
	impl.RegisterHandlers(router)
	return &testServer{
		impl:       impl,
		router:     router,
		db:         db,
		mr:         mr,
		privateKey: privateKey,
	}
}

func (s *testServer) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	return signToken(t, s.privateKey, jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    testIssuer,
		Audience:  jwt.ClaimStrings{testAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
}

func signToken(t *testing.T, key ed25519.PrivateKey, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

// do 送出請求，userID 為 uuid.Nil 時不帶 token
func (s *testServer) do(t *testing.T, method, path string, userID uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) createAuction(t *testing.T, startPrice int64, endIn time.Duration) *models.Artwork {
	t.Helper()
	end := time.Now().Add(endIn)
	artwork := &models.Artwork{
		ArtistID:       uuid.New(),
		Title:          "Quiet Tide",
		SaleType:       models.SaleTypeAuction,
		CurrentPrice:   startPrice,
		AuctionEndTime: &end,
		Status:         models.ArtworkStatusActive,
	}
	require.NoError(t, s.db.Create(artwork).Error)
	return artwork
}

func (s *testServer) createFixed(t *testing.T, price int64) *models.Artwork {
	t.Helper()
	artwork := &models.Artwork{
		ArtistID: uuid.New(),
		Title:    "Still Life",
		SaleType: models.SaleTypeFixed,
		Price:    price,
		Status:   models.ArtworkStatusActive,
	}
	require.NoError(t, s.db.Create(artwork).Error)
	return artwork
}

func (s *testServer) deposit(t *testing.T, userID uuid.UUID, amount int64) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/balance/deposits", userID, PostDepositRequest{Amount: amount})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
