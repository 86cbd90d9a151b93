package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

func TestErrorFromDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NewValidationError(domain.ErrQuantityInvalid), http.StatusBadRequest, CodeValidation},
		{fmt.Errorf("%w: order 1: boom", domain.ErrOrderNotFound), http.StatusNotFound, CodeOrderNotFound},
		{domain.ErrProductNotFound, http.StatusNotFound, CodeProductNotFound},
		{domain.ErrOrderItemNotFound, http.StatusNotFound, CodeOrderItemNotFound},
		{domain.ErrInvalidOrderState, http.StatusConflict, CodeInvalidOrderState},
		{domain.ErrDuplicateItem, http.StatusConflict, CodeDuplicateItem},
		{&domain.InsufficientStockError{ProductID: 1, Available: 2, Requested: 3}, http.StatusUnprocessableEntity, CodeInsufficientStock},
		{errors.New("connection reset"), http.StatusInternalServerError, CodeInternal},
		{context.DeadlineExceeded, http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got := errorFromDomain(tt.err)
			require.Equal(t, tt.status, got.Status)
			require.Equal(t, tt.code, got.Code)
		})
	}
}

func TestErrorFromDomain_InternalHidesCause(t *testing.T) {
	t.Parallel()

	got := errorFromDomain(errors.New("pq: password authentication failed"))
	require.NotContains(t, got.Message, "password")
}

func TestEncodeError_EnvelopeShape(t *testing.T) {
	t.Parallel()

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "rid-1")
	e := errorFromDomain(&domain.InsufficientStockError{Available: 1, Requested: 4})

	var payload map[string]any
	require.NoError(t, json.Unmarshal(encodeError(ctx, e), &payload))
	require.Equal(t, CodeInsufficientStock, payload["error"])
	require.Equal(t, float64(http.StatusUnprocessableEntity), payload["status"])
	require.Equal(t, "rid-1", payload["request_id"])
	require.Equal(t, float64(1), payload["available"])
	require.Equal(t, float64(4), payload["requested"])
	require.NotEmpty(t, payload["message"])
}

func TestEncodeError_WithoutRequestID(t *testing.T) {
	t.Parallel()

	var payload map[string]any
	require.NoError(t, json.Unmarshal(encodeError(context.Background(), newAPIError("x", "y", 400)), &payload))
	require.NotContains(t, payload, "request_id")
}
