package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type problem struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorCodes - машиночитаемые коды для доменных ошибок.
var errorCodes = []struct {
	err  error
	code string
}{
	{domain.ErrEmptyCart, "empty_cart"},
	{domain.ErrNoOrderHistory, "no_order_history"},
	{domain.ErrInsufficientStock, "insufficient_stock"},
	{domain.ErrCartVersionConflict, "cart_changed"},
	{domain.ErrOrderVersionConflict, "order_conflict"},
	{domain.ErrInvalidTransition, "invalid_transition"},
	{domain.ErrUserNotFound, "user_not_found"},
	{domain.ErrProductNotFound, "product_not_found"},
	{domain.ErrCartNotFound, "cart_not_found"},
	{domain.ErrOrderNotFound, "order_not_found"},
	{domain.ErrProductNotInCart, "product_not_in_cart"},
	{domain.ErrInvalidQuantity, "invalid_quantity"},
	{domain.ErrUserIDRequired, "user_id_required"},
	{domain.ErrProductIDRequired, "product_id_required"},
	{domain.ErrOrderIDRequired, "order_id_required"},
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindNotFound, domain.KindEmpty:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse переводит ошибку сервиса в HTTP-статус и тело. Детали внутренних
// ошибок остаются в логах.
func errorResponse(err error) (int, problem) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		return status, problem{Error: "internal error", Code: string(domain.KindInternal)}
	}

	code := string(kind)
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			code = c.code
			break
		}
	}
	return status, problem{Error: err.Error(), Code: code}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		a.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, status, body)
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, problem{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.WithError(err).Error("failed to encode response")
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal error","code":"internal"}`)
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
