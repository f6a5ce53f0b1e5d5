package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"signalexec/pkg/utils"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения.
	// Клиенты только читают поток, входящие сообщения - ping и команды закрытия
	maxMessageSize = 4096

	// Размер буфера отправки клиента.
	// dispatchResult с десятком link занимает 2-6KB
	clientSendBufferSize = 256
)

// OriginChecker проверяет Origin с O(1) lookup через map
// Потокобезопасен для чтения после инициализации
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker создаёт проверку по списку через запятую.
// Пустая строка или "*" разрешают любой origin.
//
// Пример: http://localhost:3000,https://example.com
func NewOriginChecker(origins string) *OriginChecker {
	checker := &OriginChecker{allowedOrigins: make(map[string]struct{})}

	origins = strings.TrimSpace(origins)
	if origins == "" || origins == "*" {
		checker.allowAll = true
		return checker
	}

	for _, origin := range strings.Split(origins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	return checker
}

// Check проверяет origin за O(1)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // Non-browser clients (curl, API tools)
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

// Client представляет одно WebSocket соединение
//
// Каждый клиент имеет две горутины:
// 1. readPump - держит соединение живым (pong) и замечает отключение
// 2. writePump - пишет сообщения клиенту и шлёт ping
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	// Буферизованный канал исходящих сообщений (закрывает Hub)
	send chan []byte
}

// readPump читает сообщения от клиента до ошибки соединения.
// Входящие сообщения игнорируются.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", utils.Err(err))
			}
			return
		}
	}
}

// writePump отправляет сообщения клиенту.
// Накопившиеся в буфере сообщения отправляются отдельными кадрами.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler возвращает HTTP handler для WebSocket endpoint.
//
// Использование в routes:
//
//	router.Handle("/ws/stream", hub.Handler(websocket.NewOriginChecker(os.Getenv("ALLOWED_ORIGINS"))))
func (h *Hub) Handler(origins *OriginChecker) http.HandlerFunc {
	if origins == nil {
		origins = NewOriginChecker("")
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return origins.Check(r.Header.Get("Origin"))
		},
		EnableCompression: true,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade уже ответил клиенту
			h.log.Warn("websocket upgrade failed", utils.Err(err))
			return
		}

		client := &Client{
			conn: conn,
			hub:  h,
			send: make(chan []byte, clientSendBufferSize),
		}

		select {
		case h.register <- client:
		case <-h.stop:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
