package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みアカウントの一意識別子。
	UserID string `json:"user_id"`
	// Email はアカウントのメールアドレス。
	Email string `json:"email"`
	// IsAdmin は管理者アカウントの場合にtrue。
	IsAdmin bool `json:"is_admin"`
}

const (
	// headerKeyUserID はユーザーIDをレスポンスに伝播するためのHTTPヘッダーキー。
	headerKeyUserID = "X-User-ID"
	// HeaderInternalKey は内部APIの呼び出し元を認証するHTTPヘッダーキー。
	HeaderInternalKey = "X-Internal-Key"
	// tokenIssuer は開発用トークンの発行者名。
	tokenIssuer = "msghub"
)

// ErrMissingToken はトークンが指定されていないことを表す。
var ErrMissingToken = errors.New("トークンが指定されていません")

// GenerateJWT はアカウント情報からJWTトークンを生成する。
// 本番のトークン発行はプラットフォーム本体が行い、ここでは開発用に使う。
func GenerateJWT(secret, userID, email string, isAdmin bool) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    tokenIssuer,
		},
		UserID:  userID,
		Email:   email,
		IsAdmin: isAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseToken はトークン文字列を検証してクレームを返す。
// HS256以外の署名方式とユーザーIDのないトークンは拒否する。
func ParseToken(secret, tokenString string) (*JWTClaims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("トークンが無効です")
	}
	return claims, nil
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func BearerToken(r *http.Request) (string, bool) {
	return strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"、"email"、"is_admin" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := BearerToken(c.Request)
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("is_admin", claims.IsAdmin)
		c.Header(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// AdminOnly は管理者以外のリクエストを403で拒否するGinミドルウェアを返す。
// JWTAuthの後に適用する。
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "管理者権限が必要です",
			})
			return
		}
		c.Next()
	}
}

// InternalKey は内部APIキーを検証するGinミドルウェアを返す。
// キーが未設定の場合は内部APIを無効にする。
func InternalKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "内部APIは無効です",
			})
			return
		}
		got := c.GetHeader(HeaderInternalKey)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "内部APIキーが無効です",
			})
			return
		}
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// IsAdmin はGinコンテキストのアカウントが管理者か返す。
func IsAdmin(c *gin.Context) bool {
	v, _ := c.Get("is_admin")
	admin, _ := v.(bool)
	return admin
}
