package messaging

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/msghub/internal/message"
	"github.com/nao1215/msghub/pkg/middleware"
)

// currentUser は認証済みのアカウントIDを返す。取得できなければ401を返してfalse。
func currentUser(c *gin.Context) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return "", false
	}
	return userID, true
}

// sendRequest はメッセージ送信リクエストのJSON構造。
type sendRequest struct {
	// RecipientID は宛先のアカウントID。
	RecipientID string `json:"recipient_id"`
	// Subject は件名。
	Subject string `json:"subject"`
	// Body は本文。
	Body string `json:"body"`
	// ViaEmail がtrueの場合、メールでも通知する。
	ViaEmail bool `json:"via_email"`
}

// handleSend はダイレクトメッセージを送信するハンドラを返す。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req sendRequest
		if !bindJSON(c, &req) {
			return
		}

		v, err := s.messages.Send(c.Request.Context(), userID, message.SendParams{
			RecipientID: req.RecipientID,
			Subject:     req.Subject,
			Body:        req.Body,
			ViaEmail:    req.ViaEmail,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, v)
	}
}

// broadcastRequest は一斉送信リクエストのJSON構造。
type broadcastRequest struct {
	// All がtrueの場合、管理者以外の全アカウントに送る。
	All bool `json:"all"`
	// Recipients は宛先のID・ユーザー名・メールアドレス。
	Recipients []string `json:"recipients"`
	// Subject は件名。
	Subject string `json:"subject"`
	// Body は本文。
	Body string `json:"body"`
	// SendEmail がtrueの場合、メールでも通知する。
	SendEmail bool `json:"send_email"`
}

// handleBroadcast は管理者による一斉送信のハンドラを返す。
func (s *Server) handleBroadcast() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req broadcastRequest
		if !bindJSON(c, &req) {
			return
		}

		res, err := s.messages.Broadcast(c.Request.Context(), userID, message.BroadcastParams{
			All:        req.All,
			Recipients: req.Recipients,
			Subject:    req.Subject,
			Body:       req.Body,
			SendEmail:  req.SendEmail,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleInbox は受信箱を返すハンドラを返す。
func (s *Server) handleInbox() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		views, err := s.messages.Inbox(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, orEmpty(views))
	}
}

// handleConversations はスレッド一覧を返すハンドラを返す。
func (s *Server) handleConversations() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		convs, err := s.messages.Conversations(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, orEmpty(convs))
	}
}

// handleMessageUnreadCount は未読メッセージ数を返すハンドラを返す。
func (s *Server) handleMessageUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		n, err := s.messages.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

// handleGetThread は相手とのスレッドを返すハンドラを返す。
func (s *Server) handleGetThread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		views, err := s.messages.GetThread(c.Request.Context(), userID, c.Param("otherId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, orEmpty(views))
	}
}

// handleDeleteThread は相手とのスレッドを削除するハンドラを返す。
func (s *Server) handleDeleteThread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		n, err := s.messages.DeleteThread(c.Request.Context(), userID, c.Param("otherId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	}
}

// replyRequest は返信リクエストのJSON構造。
type replyRequest struct {
	// Body は本文。
	Body string `json:"body"`
}

// handleReply はメッセージに返信するハンドラを返す。
func (s *Server) handleReply() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		var req replyRequest
		if !bindJSON(c, &req) {
			return
		}
		v, err := s.messages.Reply(c.Request.Context(), c.Param("id"), userID, req.Body)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, v)
	}
}

// handleMarkMessageRead はメッセージを1件既読にするハンドラを返す。
func (s *Server) handleMarkMessageRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		res, err := s.messages.MarkRead(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleMarkThreadRead は相手とのスレッドを既読にするハンドラを返す。
func (s *Server) handleMarkThreadRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		res, err := s.messages.MarkThreadRead(c.Request.Context(), userID, c.Param("otherId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleMarkAllMessagesRead は受信メッセージをすべて既読にするハンドラを返す。
func (s *Server) handleMarkAllMessagesRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		res, err := s.messages.MarkAllRead(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
