package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leverage/internal/api/handlers"
	"leverage/internal/api/middleware"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Manager       handlers.LifecycleManager
	History       handlers.History
	Notifications handlers.NotificationReader
	Tokens        handlers.TokenReader // nil - без /tokens
	WebSocket     http.Handler         // nil - без /ws

	AllowedOrigins []string
	TokenHash      string // bcrypt-хеш bearer-токена; пустой - без auth
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── POST /candidates - подать кандидата
//	├── POST /analysis - сухой прогон риск-анализа
//	├── /positions/
//	│   ├── GET / - позиции текущего запуска
//	│   ├── GET /{id} - позиция
//	│   ├── GET /{id}/transitions - журнал переходов
//	│   └── POST /{id}/close - ручное закрытие
//	├── GET /tokens?q= - карточка токена
//	└── GET /notifications - журнал уведомлений
//
// /ws - WebSocket для real-time обновлений
// /metrics - Prometheus
// /health - проверка живости
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только /api/v1 и /ws)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(deps.AllowedOrigins))

	auth := middleware.Auth(deps.TokenHash)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.Manager != nil {
		positions := handlers.NewPositionHandler(deps.Manager, deps.History)
		api.HandleFunc("/candidates", positions.SubmitCandidate).Methods(http.MethodPost, http.MethodOptions)
		api.HandleFunc("/analysis", positions.Analyze).Methods(http.MethodPost, http.MethodOptions)
		api.HandleFunc("/positions", positions.ListPositions).Methods(http.MethodGet)
		api.HandleFunc("/positions/{id}", positions.GetPosition).Methods(http.MethodGet)
		api.HandleFunc("/positions/{id}/transitions", positions.GetTransitions).Methods(http.MethodGet)
		api.HandleFunc("/positions/{id}/close", positions.ClosePosition).Methods(http.MethodPost, http.MethodOptions)
	}

	if deps.Notifications != nil {
		notifications := handlers.NewNotificationHandler(deps.Notifications)
		api.HandleFunc("/notifications", notifications.GetNotifications).Methods(http.MethodGet)
	}

	if deps.Tokens != nil {
		tokens := handlers.NewTokenHandler(deps.Tokens)
		api.HandleFunc("/tokens", tokens.GetToken).Methods(http.MethodGet)
	}

	if deps.WebSocket != nil {
		router.Handle("/ws", auth(deps.WebSocket)).Methods(http.MethodGet)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return router
}
