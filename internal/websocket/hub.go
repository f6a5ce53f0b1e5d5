package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"signalexec/internal/engine"
	"signalexec/internal/models"
	"signalexec/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ sync.Pool для JSON буферов ============
// Broadcast вызывается на каждое уведомление и каждый результат сигнала

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// broadcastBufferSize - ёмкость очереди сообщений hub
const broadcastBufferSize = 256

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для broadcast сообщений всем подключенным клиентам
// (UI дашборда подписок).
//
// Функции:
// - Регистрация и отмена регистрации клиентов
// - Broadcast сообщений всем активным клиентам без блокировки отправителя
// - Отключение медленных клиентов (переполнен буфер send)
//
// Типы сообщений:
// - notification: новое уведомление журнала
// - dispatchResult: результат обработки сигнала
// - subscriptionUpdate: снапшот подписки после изменения
//
// Использование:
// 1. Создать hub: hub := NewHub(log)
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.Broadcast(message)
// 4. Остановить: hub.Stop()
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	dropped atomic.Int64

	log *utils.Logger
}

// NewHub создает новый Hub
func NewHub(log *utils.Logger) *Hub {
	if log == nil {
		log = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		log:        log.WithComponent("websocket"),
	}
}

// Run запускает главный цикл Hub до вызова Stop.
//
// Список клиентов копируется под коротким RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", zap.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", zap.Int("clients", total))

		case message := <-h.broadcast:
			h.deliver(message)

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) deliver(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// Клиент не успевает обрабатывать сообщения
			toRemove = append(toRemove, client)
		}
	}

	if len(toRemove) > 0 {
		h.mu.Lock()
		for _, client := range toRemove {
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		}
		total := len(h.clients)
		h.mu.Unlock()
		h.log.Warn("removed slow clients", zap.Int("removed", len(toRemove)), zap.Int("clients", total))
	}
}

// Stop останавливает Run и закрывает все соединения. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast отправляет сообщение всем подключенным клиентам.
//
// Не блокирует: при переполненной очереди сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}

	// Encode добавляет перевод строки
	data := bytes.TrimRight(buf.Bytes(), "\n")
	msg := make([]byte, len(data))
	copy(msg, data)

	h.BroadcastRaw(msg)
}

// BroadcastRaw отправляет уже сериализованное сообщение
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		if n := h.dropped.Add(1); n%100 == 1 {
			h.log.Warn("broadcast queue full, dropping messages", zap.Int64("dropped_total", n))
		}
	}
}

// BroadcastNotification отправляет новое уведомление (service.WebSocketBroadcaster)
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(NewNotificationMessage(notif))
}

// PublishResult отправляет результат обработки сигнала (service.ResultPublisher)
func (h *Hub) PublishResult(ctx context.Context, result *engine.DispatchResult) error {
	h.Broadcast(NewDispatchResultMessage(result))
	return nil
}

// BroadcastSubscriptionUpdate отправляет снапшот подписки
func (h *Hub) BroadcastSubscriptionUpdate(sub *models.BotSubscription) {
	h.Broadcast(NewSubscriptionUpdateMessage(sub))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает количество сообщений, отброшенных из-за переполнения
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
