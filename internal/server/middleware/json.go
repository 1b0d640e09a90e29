package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/iudanet/text2mesh/pkg/api"
)

// writeError отправляет JSON ответ с ошибкой в формате api.ErrorResponse
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
