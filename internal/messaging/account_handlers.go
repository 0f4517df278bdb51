package messaging

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/msghub/internal/account"
	"github.com/nao1215/msghub/pkg/middleware"
)

// handleBlock は相手をブロックするハンドラを返す。
func (s *Server) handleBlock() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		st, err := s.accounts.Block(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// handleUnblock はブロックを解除するハンドラを返す。
func (s *Server) handleUnblock() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		st, err := s.accounts.Unblock(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// handleBlockStatus は相手とのブロック状態を返すハンドラを返す。
func (s *Server) handleBlockStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		st, err := s.accounts.Status(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// upsertAccountRequest はアカウント同期リクエストのJSON構造。
type upsertAccountRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	IsAdmin     bool   `json:"is_admin"`
	IsVerified  bool   `json:"is_verified"`
}

// handleUpsertAccount はプラットフォーム本体からのアカウント同期を受け付けるハンドラを返す。
func (s *Server) handleUpsertAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req upsertAccountRequest
		if !bindJSON(c, &req) {
			return
		}
		a := account.Account{
			ID:          c.Param("id"),
			Username:    req.Username,
			Email:       req.Email,
			DisplayName: req.DisplayName,
			AvatarURL:   req.AvatarURL,
			IsAdmin:     req.IsAdmin,
			IsVerified:  req.IsVerified,
		}
		if err := s.accounts.Upsert(c.Request.Context(), a); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// アカウントミラーも同時に作成する。DevModeのときだけ登録される。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
			return
		}
		if strings.TrimSpace(req.UserID) == "" {
			req.UserID = "dev-user"
		}
		if req.Email == "" {
			req.Email = req.UserID + "@localhost"
		}
		if req.DisplayName == "" {
			req.DisplayName = "開発ユーザー"
		}

		if err := s.accounts.Upsert(c.Request.Context(), account.Account{
			ID:          req.UserID,
			Username:    req.UserID,
			Email:       req.Email,
			DisplayName: req.DisplayName,
			IsAdmin:     req.IsAdmin,
		}); err != nil {
			writeError(c, err)
			return
		}

		token, err := middleware.GenerateJWT(s.cfg.JWTSecret, req.UserID, req.Email, req.IsAdmin)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": req.UserID,
		})
	}
}
