// Package httpapi публикует координатор позиций отгрузки как REST API
// под /api/shippings.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/metrics"
	"github.com/vladislavdragonenkov/shipping/internal/service/fulfillment"
)

const (
	// BasePath: префикс ресурса позиций отгрузки.
	BasePath = "/api/shippings"

	maxRequestBody        = 64 << 10
	defaultIdempotencyTTL = 24 * time.Hour
)

// OrderItemService: операции координатора, нужные REST-слою.
type OrderItemService interface {
	Create(ctx context.Context, cmd fulfillment.CreateItemCommand) (domain.OrderItemView, error)
	FindByID(ctx context.Context, key domain.ItemKey) (domain.OrderItemView, error)
	ListAll(ctx context.Context) ([]domain.OrderItemView, error)
	Deactivate(ctx context.Context, key domain.ItemKey) error
}

// Options задаёт параметры Handler.
type Options struct {
	Logger         *log.Entry
	Metrics        *metrics.HTTPMetrics
	Idempotency    domain.IdempotencyRepository
	IdempotencyTTL time.Duration
}

// Option настраивает Handler.
type Option func(*Options)

// WithLogger задаёт logger для access log и ошибок обработчиков.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает счётчики и гистограмму запросов.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithIdempotency включает поддержку заголовка Idempotency-Key для POST.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(opts *Options) {
		opts.Idempotency = repo
		opts.IdempotencyTTL = ttl
	}
}

// Handler: REST-обработчики позиций отгрузки.
type Handler struct {
	service        OrderItemService
	logger         *log.Entry
	metrics        *metrics.HTTPMetrics
	idempotency    domain.IdempotencyRepository
	idempotencyTTL time.Duration
}

// NewHandler создаёт Handler поверх координатора.
func NewHandler(service OrderItemService, options ...Option) *Handler {
	opts := Options{}
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "http-api")
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaultIdempotencyTTL
	}

	return &Handler{
		service:        service,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		idempotency:    opts.Idempotency,
		idempotencyTTL: opts.IdempotencyTTL,
	}
}

// Routes собирает chi-роутер со всеми middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.accessLog)
	r.Use(h.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, newAPIError("not_found", "route not found", http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, newAPIError("method_not_allowed", "method not allowed", http.StatusMethodNotAllowed))
	})

	r.Route(BasePath, func(r chi.Router) {
		r.Post("/", h.createOrderItem)
		r.Get("/", h.listOrderItems)
		r.Get("/{orderId}/{productId}", h.getOrderItem)
		r.Delete("/{orderId}/{productId}", h.deactivateOrderItem)
	})

	return r
}

func (h *Handler) createOrderItem(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCreateRequest(r)
	if err != nil {
		writeError(w, r, newAPIError(CodeInvalidJSON, err.Error(), http.StatusBadRequest))
		return
	}
	cmd := req.command()

	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" && h.idempotency != nil {
		h.createIdempotent(w, r, key, cmd)
		return
	}

	status, body, _ := h.executeCreate(r.Context(), cmd)
	writeRaw(w, status, body)
}

// executeCreate возвращает готовый ответ, чтобы его можно было сохранить для повтора,
// и исходную ошибку создания.
func (h *Handler) executeCreate(ctx context.Context, cmd fulfillment.CreateItemCommand) (int, []byte, error) {
	view, err := h.service.Create(ctx, cmd)
	if err != nil {
		apiErr := h.mapError(ctx, "create", err)
		return apiErr.Status, encodeError(ctx, apiErr), err
	}

	body, err := json.Marshal(toResponse(view))
	if err != nil {
		err = fmt.Errorf("encode response: %w", err)
		apiErr := h.mapError(ctx, "create", err)
		return apiErr.Status, encodeError(ctx, apiErr), err
	}
	return http.StatusCreated, body, nil
}

func (h *Handler) getOrderItem(w http.ResponseWriter, r *http.Request) {
	key, err := itemKeyFromPath(r)
	if err != nil {
		writeError(w, r, errorFromDomain(err))
		return
	}

	view, err := h.service.FindByID(r.Context(), key)
	if err != nil {
		writeError(w, r, h.mapError(r.Context(), "find_by_id", err))
		return
	}
	writeJSON(w, http.StatusOK, toResponse(view))
}

func (h *Handler) listOrderItems(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListAll(r.Context())
	if err != nil {
		writeError(w, r, h.mapError(r.Context(), "list_all", err))
		return
	}
	writeJSON(w, http.StatusOK, toCollection(views))
}

func (h *Handler) deactivateOrderItem(w http.ResponseWriter, r *http.Request) {
	key, err := itemKeyFromPath(r)
	if err != nil {
		writeError(w, r, errorFromDomain(err))
		return
	}

	if err := h.service.Deactivate(r.Context(), key); err != nil {
		writeError(w, r, h.mapError(r.Context(), "deactivate", err))
		return
	}
	writeJSON(w, http.StatusOK, true)
}

// mapError логирует серверные ошибки; клиентские уже учтены координатором.
func (h *Handler) mapError(ctx context.Context, operation string, err error) apiError {
	apiErr := errorFromDomain(err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"operation":  operation,
			"request_id": middleware.GetReqID(ctx),
		}).Error("request failed")
	}
	return apiErr
}

func decodeCreateRequest(r *http.Request) (createOrderItemRequest, error) {
	var req createOrderItemRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errors.New("request body is empty")
		}
		return req, fmt.Errorf("malformed request body: %w", err)
	}
	return req, nil
}

// itemKeyFromPath разбирает {orderId}/{productId}. Нечисловое значение, ноль
// и число вне диапазона INTEGER считаются ошибкой валидации.
func itemKeyFromPath(r *http.Request) (domain.ItemKey, error) {
	var errs []error

	orderID, err := strconv.Atoi(chi.URLParam(r, "orderId"))
	if err != nil {
		errs = append(errs, domain.ErrOrderIDRequired)
	}
	productID, err := strconv.Atoi(chi.URLParam(r, "productId"))
	if err != nil {
		errs = append(errs, domain.ErrProductIDRequired)
	}
	if len(errs) > 0 {
		return domain.ItemKey{}, domain.NewValidationError(errs...)
	}

	key := domain.ItemKey{OrderID: orderID, ProductID: productID}
	if errs := key.Validate(); len(errs) > 0 {
		return domain.ItemKey{}, domain.NewValidationError(errs...)
	}
	return key, nil
}
