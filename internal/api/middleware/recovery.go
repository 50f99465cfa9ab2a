package middleware

import (
	"net/http"
	"runtime/debug"

	"leverage/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Перехватывает panic, логирует stack trace и отвечает 500.
// Детали паники клиенту не отдаются.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				utils.Error("panic in http handler",
					utils.Any("panic", rec),
					utils.String("method", r.Method),
					utils.String("path", r.URL.Path),
					utils.RequestID(GetRequestID(r.Context())),
					utils.String("stack", string(debug.Stack())),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
