package api

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signalexec/internal/api/handlers"
	"signalexec/internal/api/middleware"
	"signalexec/internal/service"
	"signalexec/internal/websocket"
	"signalexec/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers.
// nil зависимость - соответствующие маршруты не регистрируются.
type Dependencies struct {
	Engine              handlers.SubscriptionManager
	Positions           handlers.PositionRecorder
	Catalog             handlers.BotLister
	Breakers            handlers.BreakerStates
	SignalService       service.SignalServiceInterface
	NotificationService service.NotificationServiceInterface
	Hub                 *websocket.Hub

	AllowedOrigins string // CORS и WebSocket
	DebugUsername  string
	DebugPassword  string

	Logger *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /signals
//	│   └── POST / - сигнал бота
//	├── /positions/close
//	│   └── POST / - закрытие позиции с P&L
//	├── /subscriptions/
//	│   ├── GET /?client_id= - подписки клиента
//	│   ├── POST / - подписаться на бота
//	│   ├── GET /{id} - снапшот подписки
//	│   ├── DELETE /{id} - отписаться
//	│   ├── POST /{id}/pause, /{id}/resume
//	│   ├── GET /{id}/report - отчёт дашборда
//	│   └── /{id}/links/{linkId}/
//	│       ├── POST /pause, /resume
//	│       ├── PUT /override - переопределение link
//	│       ├── PUT /symbols/{symbol} - переопределение символа
//	│       ├── PUT /limits - лимиты риска
//	│       └── GET /config?symbol= - итоговая конфигурация
//	├── /bots - каталог ботов
//	├── /breakers - состояние circuit breaker
//	└── /notifications/
//	    ├── GET / - журнал уведомлений
//	    └── DELETE / - очистить журнал
//
// /ws/stream - WebSocket для real-time обновлений
// /metrics - Prometheus
// /debug/pprof/ - профилирование (Basic Auth)
// /health - health check
//
// Порядок middleware: Recovery, Logging, CORS.
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.SignalService != nil {
		signalHandler := handlers.NewSignalHandler(deps.SignalService, deps.Positions)
		api.HandleFunc("/signals", signalHandler.SubmitSignal).Methods("POST")
		if deps.Positions != nil {
			api.HandleFunc("/positions/close", signalHandler.RecordClose).Methods("POST")
		}
	}

	if deps.Engine != nil {
		var broadcaster handlers.SubscriptionBroadcaster
		if deps.Hub != nil {
			broadcaster = deps.Hub
		}
		h := handlers.NewSubscriptionHandler(deps.Engine, broadcaster)

		api.HandleFunc("/subscriptions", h.ListSubscriptions).Methods("GET")
		api.HandleFunc("/subscriptions", h.Subscribe).Methods("POST")
		api.HandleFunc("/subscriptions/{id}", h.GetSubscription).Methods("GET")
		api.HandleFunc("/subscriptions/{id}", h.Unsubscribe).Methods("DELETE")
		api.HandleFunc("/subscriptions/{id}/pause", h.PauseSubscription).Methods("POST")
		api.HandleFunc("/subscriptions/{id}/resume", h.ResumeSubscription).Methods("POST")
		api.HandleFunc("/subscriptions/{id}/report", h.GetReport).Methods("GET")

		links := api.PathPrefix("/subscriptions/{id}/links/{linkId}").Subrouter()
		links.HandleFunc("/pause", h.PauseLink).Methods("POST")
		links.HandleFunc("/resume", h.ResumeLink).Methods("POST")
		links.HandleFunc("/override", h.UpdateLinkOverride).Methods("PUT")
		links.HandleFunc("/symbols/{symbol}", h.UpdateSymbolOverride).Methods("PUT")
		links.HandleFunc("/limits", h.UpdateLimits).Methods("PUT")
		links.HandleFunc("/config", h.GetEffectiveConfig).Methods("GET")
	}

	if deps.Catalog != nil && deps.Breakers != nil {
		statusHandler := handlers.NewStatusHandler(deps.Catalog, deps.Breakers)
		api.HandleFunc("/bots", statusHandler.GetBots).Methods("GET")
		api.HandleFunc("/breakers", statusHandler.GetBreakers).Methods("GET")
	}

	if deps.NotificationService != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.NotificationService)
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
		api.HandleFunc("/notifications", notificationHandler.ClearNotifications).Methods("DELETE")
	}

	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", deps.Hub.Handler(websocket.NewOriginChecker(deps.AllowedOrigins)))
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(middleware.DebugAuth(deps.DebugUsername, deps.DebugPassword))
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").HandlerFunc(pprof.Index)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Preflight: маршрут нужен, чтобы CORS middleware отработал для OPTIONS.
	// MatcherFunc вместо Methods: иначе неизвестный путь отдавал бы 405 вместо 404.
	router.PathPrefix("/").MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return r.Method == http.MethodOptions
	}).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}
