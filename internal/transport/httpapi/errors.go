package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

// Коды ошибок в поле "error" конверта ответа.
const (
	CodeValidation             = "validation_failed"
	CodeInvalidJSON            = "invalid_json"
	CodeOrderNotFound          = "order_not_found"
	CodeProductNotFound        = "product_not_found"
	CodeOrderItemNotFound      = "order_item_not_found"
	CodeInvalidOrderState      = "invalid_order_state"
	CodeDuplicateItem          = "order_item_exists"
	CodeInsufficientStock      = "insufficient_stock"
	CodeIdempotencyInProgress  = "idempotency_in_progress"
	CodeIdempotencyKeyMismatch = "idempotency_key_mismatch"
	CodeInternal               = "internal_error"
)

// apiError: конверт ошибки {error, message, status, request_id, ...details}.
type apiError struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func newAPIError(code, message string, status int) apiError {
	return apiError{Code: code, Message: message, Status: status}
}

// errorFromDomain сопоставляет доменную ошибку с HTTP-ответом.
// Любая неизвестная ошибка скрывается за 500 без текста причины.
func errorFromDomain(err error) apiError {
	var stock *domain.InsufficientStockError

	switch {
	case errors.As(err, &stock):
		e := newAPIError(CodeInsufficientStock, stock.Error(), http.StatusUnprocessableEntity)
		e.Details = map[string]any{"available": stock.Available, "requested": stock.Requested}
		return e
	case errors.Is(err, domain.ErrValidation):
		return newAPIError(CodeValidation, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrOrderNotFound):
		return newAPIError(CodeOrderNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrProductNotFound):
		return newAPIError(CodeProductNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrOrderItemNotFound):
		return newAPIError(CodeOrderItemNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidOrderState):
		return newAPIError(CodeInvalidOrderState, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrDuplicateItem):
		return newAPIError(CodeDuplicateItem, err.Error(), http.StatusConflict)
	default:
		return newAPIError(CodeInternal, "internal server error", http.StatusInternalServerError)
	}
}

// encodeError сериализует конверт; request_id берётся из chi middleware.RequestID.
func encodeError(ctx context.Context, e apiError) []byte {
	payload := make(map[string]any, 4+len(e.Details))
	for k, v := range e.Details {
		payload[k] = v
	}
	payload["error"] = e.Code
	payload["message"] = strings.TrimSpace(strings.ReplaceAll(e.Message, "\n", " "))
	payload["status"] = e.Status
	if id := middleware.GetReqID(ctx); id != "" {
		payload["request_id"] = id
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return []byte(`{"error":"internal_error","status":500}`)
	}
	return body
}

func writeError(w http.ResponseWriter, r *http.Request, e apiError) {
	writeRaw(w, e.Status, encodeError(r.Context(), e))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		writeRaw(w, http.StatusInternalServerError, []byte(`{"error":"internal_error","status":500}`))
		return
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
