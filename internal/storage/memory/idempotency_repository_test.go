package memory_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/storage/memory"
)

func TestIdempotencyRepository_StoresCreatedResponse(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	record, err := repo.CreateProcessing("  post-item-1  ", "hash-1", ttl)
	require.NoError(t, err)
	require.Equal(t, "post-item-1", record.Key)
	require.Equal(t, domain.IdempotencyStatusProcessing, record.Status)
	require.False(t, record.Completed())

	body := []byte(`{"orderId":1,"productId":10,"orderedQuantity":2}`)
	require.NoError(t, repo.MarkDone("post-item-1", body, http.StatusCreated))

	// Изменение исходного буфера не должно влиять на сохранённый ответ.
	body[0] = 'X'

	stored, err := repo.Get("post-item-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, stored.Status)
	require.Equal(t, http.StatusCreated, stored.HTTPStatus)
	require.True(t, stored.TTLAt.Equal(ttl))
	require.JSONEq(t, `{"orderId":1,"productId":10,"orderedQuantity":2}`, string(stored.ResponseBody))
}

func TestIdempotencyRepository_StoresErrorResponseAsFailed(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing("post-item-2", "hash-2", time.Time{})
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed("post-item-2", []byte(`{"error":"order_not_found","status":404}`), http.StatusNotFound))

	stored, err := repo.Get("post-item-2")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, stored.Status)
	require.True(t, stored.Completed())
	require.WithinDuration(t, time.Now().Add(24*time.Hour), stored.TTLAt, time.Minute)
}

func TestIdempotencyRepository_ReleaseFreesProcessingKey(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing("post-item-r", "hash-r", ttl)
	require.NoError(t, err)
	require.NoError(t, repo.Release("post-item-r"))

	_, err = repo.Get("post-item-r")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	_, err = repo.CreateProcessing("post-item-r", "hash-r", ttl)
	require.NoError(t, err, "released key can be claimed again")
	require.NoError(t, repo.MarkDone("post-item-r", []byte(`{}`), http.StatusCreated))

	require.ErrorIs(t, repo.Release("post-item-r"), domain.ErrIdempotencyKeyNotFound, "completed record stays")
	stored, err := repo.Get("post-item-r")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, stored.Status)

	require.ErrorIs(t, repo.Release(" "), domain.ErrIdempotencyKeyRequired)
}

func TestIdempotencyRepository_HeldKeyConflicts(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing("post-item-3", "hash-a", ttl)
	require.NoError(t, err)

	held, err := repo.CreateProcessing("post-item-3", "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.Equal(t, "hash-a", held.RequestHash)

	_, err = repo.CreateProcessing("post-item-3", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.True(t, domain.IsIdempotencyConflict(err))
}

func TestIdempotencyRepository_RejectsInvalidInput(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{
			name: "blank key",
			call: func() error { _, err := repo.CreateProcessing("  ", "hash", time.Time{}); return err },
			want: domain.ErrIdempotencyKeyRequired,
		},
		{
			name: "blank hash",
			call: func() error { _, err := repo.CreateProcessing("key", " ", time.Time{}); return err },
			want: domain.ErrIdempotencyRequestHashRequired,
		},
		{
			name: "unknown key",
			call: func() error { return repo.MarkDone("missing", []byte(`{}`), http.StatusCreated) },
			want: domain.ErrIdempotencyKeyNotFound,
		},
		{
			name: "get blank key",
			call: func() error { _, err := repo.Get(""); return err },
			want: domain.ErrIdempotencyKeyRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.call(), tt.want)
		})
	}

	_, err := repo.CreateProcessing("bad-status", "hash", time.Time{})
	require.NoError(t, err)
	require.Error(t, repo.MarkDone("bad-status", []byte(`{}`), 0))
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for key, ttl := range map[string]time.Time{
		"expired-old":    now.Add(-3 * time.Hour),
		"expired-middle": now.Add(-2 * time.Hour),
		"expired-recent": now.Add(-time.Minute),
		"active":         now.Add(time.Hour),
	} {
		_, err := repo.CreateProcessing(key, "hash-"+key, ttl)
		require.NoError(t, err)
	}

	removed, err := repo.DeleteExpired(now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	// Самая свежая просроченная запись переживает первый проход.
	removed, err = repo.DeleteExpired(now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get("active")
	require.NoError(t, err)
}

func TestIdempotencyRepository_ExpiredKeyCanBeReused(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing("post-reuse", "hash-old", time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)

	_, err = repo.Get("post-reuse")
	if !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected expired key to be invisible, got %v", err)
	}

	record, err := repo.CreateProcessing("post-reuse", "hash-new", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "hash-new", record.RequestHash)
}
