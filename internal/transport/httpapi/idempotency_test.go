package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/shipping/internal/storage/memory"
)

type stubService struct {
	creates atomic.Int32
	err     error
	panics  bool
}

func (s *stubService) Create(_ context.Context, cmd fulfillment.CreateItemCommand) (domain.OrderItemView, error) {
	s.creates.Add(1)
	if s.panics {
		panic("boom")
	}
	if s.err != nil {
		return domain.OrderItemView{}, s.err
	}
	return domain.OrderItemView{OrderID: cmd.OrderID, ProductID: cmd.ProductID, OrderedQuantity: cmd.OrderedQuantity}, nil
}

func (s *stubService) FindByID(context.Context, domain.ItemKey) (domain.OrderItemView, error) {
	return domain.OrderItemView{}, domain.ErrOrderItemNotFound
}

func (s *stubService) ListAll(context.Context) ([]domain.OrderItemView, error) {
	return nil, s.err
}

func (s *stubService) Deactivate(context.Context, domain.ItemKey) error {
	return s.err
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func post(t *testing.T, h http.Handler, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, BasePath, bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_InProgressKey(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	service := &stubService{}
	h := NewHandler(service, WithLogger(quietLogger()), WithIdempotency(repo, time.Hour)).Routes()

	hash, err := createRequestHash(fulfillment.CreateItemCommand{OrderID: 1, ProductID: 2, OrderedQuantity: 3})
	require.NoError(t, err)
	_, err = repo.CreateProcessing("busy", hash, time.Now().Add(time.Hour))
	require.NoError(t, err)

	rec := post(t, h, `{"orderId":1,"productId":2,"orderedQuantity":3}`, "busy")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), CodeIdempotencyInProgress)
	require.Zero(t, service.creates.Load())
}

func TestIdempotency_WithoutKeyAlwaysExecutes(t *testing.T) {
	t.Parallel()

	service := &stubService{}
	h := NewHandler(service, WithLogger(quietLogger()),
		WithIdempotency(memory.NewIdempotencyRepository(), time.Hour)).Routes()

	for i := 0; i < 2; i++ {
		rec := post(t, h, `{"orderId":1,"productId":2,"orderedQuantity":3}`, "")
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	require.Equal(t, int32(2), service.creates.Load())
}

func TestIdempotency_ReleasesKeyOnTransientFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "storage failure", err: errors.New("storage down"), status: http.StatusInternalServerError},
		{
			name:   "order service unavailable",
			err:    fmt.Errorf("%w: order 1: %w", domain.ErrOrderNotFound, domain.ErrRemoteUnavailable),
			status: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := memory.NewIdempotencyRepository()
			service := &stubService{err: tt.err}
			h := NewHandler(service, WithLogger(quietLogger()), WithIdempotency(repo, time.Hour)).Routes()

			rec := post(t, h, `{"orderId":1,"productId":2,"orderedQuantity":3}`, "k")
			require.Equal(t, tt.status, rec.Code)

			_, err := repo.Get("k")
			require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

			service.err = nil
			rec = post(t, h, `{"orderId":1,"productId":2,"orderedQuantity":3}`, "k")
			require.Equal(t, http.StatusCreated, rec.Code)
			require.Equal(t, int32(2), service.creates.Load())
		})
	}
}

func TestIdempotency_StoresDeterministicRejection(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	service := &stubService{err: fmt.Errorf("%w: order 1: %w", domain.ErrOrderNotFound, domain.ErrRemoteNotFound)}
	h := NewHandler(service, WithLogger(quietLogger()), WithIdempotency(repo, time.Hour)).Routes()

	rec := post(t, h, `{"orderId":1,"productId":2,"orderedQuantity":3}`, "k")
	require.Equal(t, http.StatusNotFound, rec.Code)

	record, err := repo.Get("k")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, record.Status)
	require.Equal(t, http.StatusNotFound, record.HTTPStatus)
}

func TestIdempotency_RequestHashIgnoresFormatting(t *testing.T) {
	t.Parallel()

	a, err := createRequestHash(fulfillment.CreateItemCommand{OrderID: 1, ProductID: 2, OrderedQuantity: 3})
	require.NoError(t, err)
	b, err := createRequestHash(fulfillment.CreateItemCommand{OrderID: 1, ProductID: 2, OrderedQuantity: 3})
	require.NoError(t, err)
	c, err := createRequestHash(fulfillment.CreateItemCommand{OrderID: 1, ProductID: 2, OrderedQuantity: 4})
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestHandler_RecoversPanic(t *testing.T) {
	t.Parallel()

	h := NewHandler(&stubService{panics: true}, WithLogger(quietLogger())).Routes()

	rec := post(t, h, `{"orderId":1,"productId":2,"orderedQuantity":3}`, "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), CodeInternal)
}

func TestHandler_ListStorageFailure(t *testing.T) {
	t.Parallel()

	h := NewHandler(&stubService{err: errors.New("db gone")}, WithLogger(quietLogger())).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, BasePath, nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "db gone")
}

func TestHandler_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHandler(&stubService{}, WithLogger(quietLogger())).Routes()

	rec := post(t, h, "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), CodeInvalidJSON)
}
