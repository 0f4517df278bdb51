package messaging

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/msghub/internal/notification"
)

// handleListNotifications は通知一覧を返すハンドラを返す。
func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		items, err := s.notifications.List(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, orEmpty(items))
	}
}

// handleListUnreadNotifications は未読の通知一覧を返すハンドラを返す。
func (s *Server) handleListUnreadNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		items, err := s.notifications.ListUnread(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, orEmpty(items))
	}
}

// handleNotificationUnreadCount は未読通知数を返すハンドラを返す。
func (s *Server) handleNotificationUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		n, err := s.notifications.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

// handleMarkNotificationRead は通知を1件既読にするハンドラを返す。
func (s *Server) handleMarkNotificationRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		res, err := s.notifications.MarkRead(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleMarkAllNotificationsRead は通知をすべて既読にするハンドラを返す。
func (s *Server) handleMarkAllNotificationsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		res, err := s.notifications.MarkAllRead(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleDeleteNotification は通知を1件削除するハンドラを返す。
func (s *Server) handleDeleteNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		if err := s.notifications.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を削除しました"})
	}
}

// handleClearNotifications は通知をすべて削除するハンドラを返す。
func (s *Server) handleClearNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		n, err := s.notifications.ClearAll(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	}
}

// handleCreateNotification は他サービスからの通知作成を受け付けるハンドラを返す。
func (s *Server) handleCreateNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notification.CreateParams
		if !bindJSON(c, &req) {
			return
		}
		n, err := s.notifications.Create(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}
