package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/service/fulfillment"
)

const (
	// IdempotencyKeyHeader: заголовок, по которому повторный POST возвращает сохранённый ответ.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotencyReplayedHeader выставляется в ответах, взятых из хранилища.
	IdempotencyReplayedHeader = "Idempotency-Replayed"
)

// createIdempotent выполняет создание не более одного раза на ключ.
// Сохраняется итоговый статус и тело, включая детерминированные 4xx.
// Отказ из-за недоступного order/product-service (он тоже отвечает 404)
// и любой 5xx не сохраняются: ключ освобождается, и повтор выполнит
// создание заново.
func (h *Handler) createIdempotent(w http.ResponseWriter, r *http.Request, key string, cmd fulfillment.CreateItemCommand) {
	logger := h.logger.WithField("idempotency_key", key)

	hash, err := createRequestHash(cmd)
	if err != nil {
		logger.WithError(err).Warn("failed to build idempotency request hash")
		writeError(w, r, newAPIError(CodeInternal, "failed to initialize idempotent request", http.StatusInternalServerError))
		return
	}

	record, err := h.idempotency.CreateProcessing(key, hash, time.Now().UTC().Add(h.idempotencyTTL))
	if err != nil {
		h.replay(w, r, logger, record, err)
		return
	}

	status, body, createErr := h.executeCreate(r.Context(), cmd)

	if transientFailure(status, createErr) {
		if err := h.idempotency.Release(key); err != nil {
			logger.WithError(err).WithField("status", status).Warn("failed to release idempotency key")
		}
		writeRaw(w, status, body)
		return
	}

	store := h.idempotency.MarkDone
	if domain.StatusForResponse(status) == domain.IdempotencyStatusFailed {
		store = h.idempotency.MarkFailed
	}
	if err := store(key, body, status); err != nil {
		logger.WithError(err).WithField("status", status).Warn("failed to store idempotent response")
	}

	writeRaw(w, status, body)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, logger *log.Entry, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeError(w, r, newAPIError(CodeIdempotencyKeyMismatch,
			"idempotency key is already used with a different request payload", http.StatusUnprocessableEntity))
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Completed() {
			writeError(w, r, newAPIError(CodeIdempotencyInProgress,
				"request with the same idempotency key is still processing", http.StatusConflict))
			return
		}
		if !record.Replayable() {
			logger.Warn("idempotency record has no stored response")
			writeError(w, r, newAPIError(CodeInternal, "stored idempotent response is empty", http.StatusInternalServerError))
			return
		}
		w.Header().Set(IdempotencyReplayedHeader, "true")
		writeRaw(w, record.HTTPStatus, record.ResponseBody)
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		writeError(w, r, newAPIError(CodeInternal, "failed to initialize idempotent request", http.StatusInternalServerError))
	}
}

func transientFailure(status int, err error) bool {
	return status >= http.StatusInternalServerError || errors.Is(err, domain.ErrRemoteUnavailable)
}

// createRequestHash хеширует нормализованную команду, а не сырое тело,
// поэтому порядок полей и пробелы в JSON не влияют на совпадение.
func createRequestHash(cmd fulfillment.CreateItemCommand) (string, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte("POST "+BasePath+":"), data...))
	return hex.EncodeToString(sum[:]), nil
}
