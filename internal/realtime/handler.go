package realtime

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nao1215/msghub/pkg/event"
	"github.com/nao1215/msghub/pkg/metrics"
	"github.com/nao1215/msghub/pkg/middleware"
)

// Handler はWebSocket接続を受け付ける。
type Handler struct {
	hub      *Hub
	secret   string
	upgrader websocket.Upgrader
}

// NewHandler は新しいHandlerを生成する。
// allowedOriginsが空、または"*"を含む場合はすべてのオリジンを許可する。
func NewHandler(hub *Hub, secret string, allowedOrigins []string) *Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			origins[o] = struct{}{}
		}
	}
	_, allowAll := origins["*"]

	return &Handler{
		hub:    hub,
		secret: secret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowAll || len(origins) == 0 {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

// token はAuthorizationヘッダー、なければtokenクエリパラメータからトークンを取り出す。
func token(r *http.Request) string {
	if t, ok := middleware.BearerToken(r); ok && t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

// Handle はGET /wsのハンドラを返す。
// トークンが無効な場合はアップグレード前に401を返す。
func (h *Handler) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := middleware.ParseToken(h.secret, token(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "無効なトークンです",
			})
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgradeがエラーレスポンスを書き込み済み
			log.Printf("[Realtime] アップグレードに失敗 (account=%s): %v", claims.UserID, err)
			return
		}

		client := h.hub.NewClient(claims.UserID)
		client.conn = conn
		h.hub.Join(claims.UserID, client)
		client.reply(event.TypeJoined, event.JoinedData{AccountID: claims.UserID})

		metrics.RealtimeConnections.Inc()
		go client.writePump()
		go func() {
			defer metrics.RealtimeConnections.Dec()
			client.readPump()
		}()
	}
}
