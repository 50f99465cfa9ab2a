package websocket

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	gws "github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"leverage/internal/models"
	"leverage/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub управляет всеми активными WebSocket соединениями
//
// Типы сообщений:
// - positionUpdate: переход позиции (state machine)
// - notification: новое уведомление
//
// Использование:
// 1. hub := NewHub(origins, log)
// 2. go hub.Run(ctx)
// 3. hub.BroadcastPositionUpdate(pos) / hub.BroadcastNotification(n)
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	upgrader gws.Upgrader
	dropped  atomic.Int64
	log      *utils.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewHub создает новый Hub. origins - разрешённые Origin, пусто или "*" - все.
func NewHub(origins []string, log *utils.Logger) *Hub {
	if log == nil {
		log = utils.NewNopLogger()
	}
	checker := NewOriginChecker(origins)
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: gws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return checker.Check(r.Header.Get("Origin"))
			},
			EnableCompression: true,
		},
		log:  log.WithComponent("websocket"),
		stop: make(chan struct{}),
	}
}

// Run запускает главный цикл Hub до отмены ctx или Stop
//
// Медленные клиенты, у которых переполнен буфер, отключаются.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.Stop()
		h.closeAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", utils.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", utils.Int("clients", total))

		case message := <-h.broadcast:
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
				h.log.Warn("removed slow clients", utils.Int("removed", len(toRemove)), utils.Int("clients", total))
			}
		}
	}
}

// Stop останавливает Run
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
//
// Не блокирует: при полной очереди сообщение отбрасывается и учитывается в DroppedMessages.
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastPositionUpdate отправляет снимок позиции
func (h *Hub) BroadcastPositionUpdate(pos models.Position) {
	h.Broadcast(NewPositionUpdateMessage(pos))
}

// OnTransition - приёмник переходов менеджера жизненного цикла
func (h *Hub) OnTransition(pos models.Position) {
	h.BroadcastPositionUpdate(pos)
}

// BroadcastNotification отправляет новое уведомление
func (h *Hub) BroadcastNotification(n *models.Notification) {
	h.Broadcast(NewNotificationMessage(n))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сообщения, отброшенные из-за переполненной очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
