package idempotency

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestGuard_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, 0, nil)
	hash := RequestHash("user-alice", "POST /api/v1/orders", []byte(`{}`))

	first, err := guard.Begin(ctx, "key-1", hash)
	require.NoError(t, err)
	require.Equal(t, OutcomeProceed, first.Outcome)

	again, err := guard.Begin(ctx, "key-1", hash)
	require.NoError(t, err)
	require.Equal(t, OutcomeInProgress, again.Outcome)

	guard.Finish(ctx, "key-1", http.StatusCreated, []byte(`{"id":"o-1"}`))

	replay, err := guard.Begin(ctx, "key-1", hash)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplay, replay.Outcome)
	require.Equal(t, http.StatusCreated, replay.Record.HTTPStatus)
	require.JSONEq(t, `{"id":"o-1"}`, string(replay.Record.ResponseBody))
	require.Equal(t, domain.IdempotencyStatusDone, replay.Record.Status)
}

func TestGuard_MismatchAndFailedReplay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)

	hashA := RequestHash("user-alice", "POST /api/v1/orders", []byte(`{"a":1}`))
	hashB := RequestHash("user-alice", "POST /api/v1/orders", []byte(`{"a":2}`))
	require.NotEqual(t, hashA, hashB)
	require.NotEqual(t, hashA, RequestHash("user-bob", "POST /api/v1/orders", []byte(`{"a":1}`)))

	_, err := guard.Begin(ctx, "key-2", hashA)
	require.NoError(t, err)
	guard.Finish(ctx, "key-2", http.StatusConflict, []byte(`{"code":"insufficient_stock"}`))

	mismatch, err := guard.Begin(ctx, "key-2", hashB)
	require.NoError(t, err)
	require.Equal(t, OutcomeMismatch, mismatch.Outcome)

	replay, err := guard.Begin(ctx, "key-2", hashA)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplay, replay.Outcome)
	require.Equal(t, domain.IdempotencyStatusFailed, replay.Record.Status)
}

func TestGuard_EmptyKeyIsError(t *testing.T) {
	t.Parallel()

	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	_, err := guard.Begin(context.Background(), " ", "hash")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestGuard_ServerErrorReleasesKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, 0, nil)
	hash := RequestHash("user-alice", "POST /api/v1/orders", nil)

	first, err := guard.Begin(ctx, "key-3", hash)
	require.NoError(t, err)
	require.Equal(t, OutcomeProceed, first.Outcome)
	guard.Finish(ctx, "key-3", http.StatusInternalServerError, []byte(`{"code":"internal"}`))

	_, err = repo.Get(ctx, "key-3")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	retry, err := guard.Begin(ctx, "key-3", hash)
	require.NoError(t, err)
	require.Equal(t, OutcomeProceed, retry.Outcome, "a failed attempt must not be replayed")
}

func TestGuard_ReleaseKeepsFinishedRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, 0, nil)
	hash := RequestHash("user-alice", "POST /api/v1/orders", nil)

	_, err := guard.Begin(ctx, "key-4", hash)
	require.NoError(t, err)
	guard.Release(ctx, "key-4")

	_, err = guard.Begin(ctx, "key-4", hash)
	require.NoError(t, err)
	guard.Finish(ctx, "key-4", http.StatusCreated, []byte(`{"id":"o-4"}`))
	guard.Release(ctx, "key-4")

	replay, err := guard.Begin(ctx, "key-4", hash)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplay, replay.Outcome)
}
