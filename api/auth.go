package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	CookieAccessToken   = "access_token"
	HeaderSettleToken   = "X-Settle-Token"
	contextKeyUserID    = "artbid-user-id"
	authorizationPrefix = "Bearer "
)

// Authenticate 驗證 Ed25519 簽章的 JWT，並把 subject 當作使用者 ID 放進 context
// token 可以放在 access_token cookie 或 Authorization header
func (impl *ServerImpl) Authenticate() gin.HandlerFunc {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if impl.config.Auth.Issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(impl.config.Auth.Issuer))
	}
	if impl.config.Auth.Audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(impl.config.Auth.Audience))
	}
	parser := jwt.NewParser(parserOptions...)
	keyFunc := func(*jwt.Token) (any, error) {
		return impl.config.Auth.PublicKey, nil
	}

	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "missing access token"))
			return
		}
		claims := &jwt.RegisteredClaims{}
		if _, err := parser.ParseWithClaims(tokenString, claims, keyFunc); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "invalid access token"))
			return
		}
		userID, err := uuid.Parse(claims.Subject)
		if err != nil || userID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "invalid subject"))
			return
		}
		c.Set(contextKeyUserID, userID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, authorizationPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, authorizationPrefix))
	}
	if cookie, err := c.Cookie(CookieAccessToken); err == nil {
		return cookie
	}
	return ""
}

// currentUser 取得 Authenticate 放進 context 的使用者 ID
func currentUser(c *gin.Context) uuid.UUID {
	return c.MustGet(contextKeyUserID).(uuid.UUID)
}

// RequireSettleToken 正式環境下結算端點需要帶上共用密鑰
func (impl *ServerImpl) RequireSettleToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !impl.config.IsProduction() {
			c.Next()
			return
		}
		expected := impl.config.Auth.SettleToken
		provided := c.GetHeader(HeaderSettleToken)
		if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "invalid settle token"))
			return
		}
		c.Next()
	}
}
