package realtime

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nao1215/msghub/pkg/event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client は1本のWebSocket接続。
// rooms・closedはHubのロックで保護する。
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	accountID string
	send      chan []byte

	rooms  map[string]struct{}
	closed bool
}

// AccountID は接続を認証したアカウントIDを返す。
func (c *Client) AccountID() string {
	return c.accountID
}

// enqueue はキューに空きがあれば積む。Hubのロックを保持した状態で呼ぶこと。
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// reply は制御メッセージへの応答をこの接続にだけ送る。
func (c *Client) reply(t event.Type, data any) {
	ev, err := event.New(c.accountID, t, data)
	if err != nil {
		return
	}
	c.hub.sendTo(c, ev)
}

// join は自分のルームへの参加要求を処理する。
func (c *Client) join(room string) {
	if room == "" {
		room = c.accountID
	}
	if room != c.accountID {
		c.reply(event.TypeError, event.ErrorData{Message: "他のアカウントのルームには参加できません"})
		return
	}
	c.hub.Join(room, c)
	c.reply(event.TypeJoined, event.JoinedData{AccountID: room})
}

// readPump は受信メッセージを処理する。接続が切れるとHubから外れる。
func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Realtime] 受信エラー (account=%s): %v", c.accountID, err)
			}
			return
		}

		in, err := event.ParseInbound(raw)
		if err != nil {
			c.reply(event.TypeError, event.ErrorData{Message: "メッセージの形式が不正です"})
			continue
		}
		switch in.Type {
		case event.TypeJoin:
			c.join(in.AccountID)
		default:
			c.reply(event.TypeError, event.ErrorData{Message: "未対応のメッセージ種別です"})
		}
	}
}

// writePump は送信キューの内容を書き出し、定期的にpingを送る。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
