package domain

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusForResponse(t *testing.T) {
	require.Equal(t, IdempotencyStatusDone, StatusForResponse(http.StatusCreated))
	require.Equal(t, IdempotencyStatusDone, StatusForResponse(http.StatusOK))
	require.Equal(t, IdempotencyStatusFailed, StatusForResponse(http.StatusUnprocessableEntity))
	require.Equal(t, IdempotencyStatusFailed, StatusForResponse(http.StatusServiceUnavailable))

	require.True(t, IdempotencyStatusProcessing.Valid())
	require.False(t, IdempotencyStatus("pending").Valid())
}

func TestIdempotencyRecord_Replayable(t *testing.T) {
	body := []byte(`{"orderId":1}`)

	require.False(t, IdempotencyRecord{Status: IdempotencyStatusProcessing}.Replayable())
	require.False(t, IdempotencyRecord{Status: IdempotencyStatusDone, HTTPStatus: http.StatusCreated}.Replayable(), "no stored body")
	require.True(t, IdempotencyRecord{Status: IdempotencyStatusDone, HTTPStatus: http.StatusCreated, ResponseBody: body}.Replayable())
	require.True(t, IdempotencyRecord{Status: IdempotencyStatusFailed, HTTPStatus: http.StatusConflict, ResponseBody: body}.Replayable())
}

func TestIdempotencyRecord_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.False(t, IdempotencyRecord{}.Expired(now), "record without ttl never expires")
	require.False(t, IdempotencyRecord{TTLAt: now.Add(time.Second)}.Expired(now))
	require.True(t, IdempotencyRecord{TTLAt: now}.Expired(now))
	require.True(t, IdempotencyRecord{TTLAt: now.Add(-time.Hour)}.Expired(now))
}
