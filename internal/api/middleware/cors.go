package middleware

import (
	"net/http"
	"strings"
)

// defaultOrigins - origins dev-серверов дашборда, если список не задан
var defaultOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:5173", // Vite dev server
	"http://127.0.0.1:5173",
}

// CORS - middleware для Cross-Origin Resource Sharing
//
// origins - список через запятую (CORS_ALLOWED_ORIGINS), "*" разрешает любой origin.
// Пустой список - только dev-серверы на localhost.
//
// Для разрешённого origin выставляется конкретный Access-Control-Allow-Origin
// с credentials; для чужого заголовки не ставятся - браузер заблокирует ответ.
// Запросы без Origin (curl, webhook бота) проходят как есть.
func CORS(origins string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool)
	allowAll := false
	list := strings.Split(origins, ",")
	if strings.TrimSpace(origins) == "" {
		list = defaultOrigins
	}
	for _, o := range list {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			allowAll = true
		default:
			allowed[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
