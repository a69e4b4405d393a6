package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kbpulse/internal/model"
)

func newTestRegistry(t *testing.T, sources ...model.DataSource) *Registry {
	t.Helper()
	r := New(nil, zap.NewNop())
	require.NoError(t, r.Load(context.Background(), sources))
	return r
}

func src(id string, enabled bool) model.DataSource {
	return model.DataSource{
		ID:       id,
		Name:     id,
		Platform: model.PlatformGeneric,
		BaseURL:  "https://" + id + ".example.com",
		Enabled:  enabled,
	}
}

func TestBeginSync_SecondClaimFails(t *testing.T) {
	r := newTestRegistry(t, src("s1", true))
	ctx := context.Background()

	ticket, err := r.BeginSync(ctx, "s1")
	require.NoError(t, err)

	_, err = r.BeginSync(ctx, "s1")
	assert.ErrorIs(t, err, ErrAlreadySyncing)

	// Releasing the claim makes the source claimable again.
	require.NoError(t, r.CompleteSync(ctx, ticket, Outcome{Status: model.SyncSuccess}))
	_, err = r.BeginSync(ctx, "s1")
	assert.NoError(t, err)
}

func TestBeginSync_UnknownSource(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.BeginSync(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestBeginSync_ConcurrentClaims_ExactlyOneWins(t *testing.T) {
	r := newTestRegistry(t, src("s1", true))
	ctx := context.Background()

	const claimers = 32
	var wins, losses atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.BeginSync(ctx, "s1"); err == nil {
				wins.Add(1)
			} else {
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(claimers-1), losses.Load())

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceSyncing, got.Status)
}

func TestCompleteSync_SuccessUpdatesCounters(t *testing.T) {
	r := newTestRegistry(t, src("s1", true))
	ctx := context.Background()

	ticket, err := r.BeginSync(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, r.CompleteSync(ctx, ticket, Outcome{
		Status:        model.SyncSuccess,
		ArticlesCount: 12,
	}))

	got, _ := r.Get("s1")
	assert.Equal(t, model.SourceSuccess, got.Status)
	assert.Equal(t, int64(1), got.SyncCount)
	assert.Equal(t, int64(0), got.ErrorCount)
	assert.Equal(t, int64(12), got.ArticlesCount)
	assert.NotNil(t, got.LastSyncAt)
}

func TestCompleteSync_FailureKeepsLastKnownGood(t *testing.T) {
	r := newTestRegistry(t, src("s1", true))
	ctx := context.Background()

	ticket, _ := r.BeginSync(ctx, "s1")
	require.NoError(t, r.CompleteSync(ctx, ticket, Outcome{Status: model.SyncSuccess, ArticlesCount: 7}))
	good, _ := r.Get("s1")

	ticket, _ = r.BeginSync(ctx, "s1")
	require.NoError(t, r.CompleteSync(ctx, ticket, Outcome{Status: model.SyncError}))

	got, _ := r.Get("s1")
	assert.Equal(t, model.SourceError, got.Status)
	assert.Equal(t, int64(1), got.ErrorCount)
	assert.Equal(t, good.LastSyncAt, got.LastSyncAt, "failure must not erase lastSyncAt")
	assert.Equal(t, int64(7), got.ArticlesCount, "failure must not erase articlesCount")
}

func TestCompleteSync_CancelledIsNotAnError(t *testing.T) {
	r := newTestRegistry(t, src("s1", true))
	ctx := context.Background()

	ticket, _ := r.BeginSync(ctx, "s1")
	require.NoError(t, r.CompleteSync(ctx, ticket, Outcome{Status: model.SyncCancelled}))

	got, _ := r.Get("s1")
	assert.Equal(t, model.SourceCancelled, got.Status)
	assert.Equal(t, int64(0), got.ErrorCount)

	// Cancelled is re-enterable.
	_, err := r.BeginSync(ctx, "s1")
	assert.NoError(t, err)
}

func TestCompleteSync_StaleTicketRejected(t *testing.T) {
	r := newTestRegistry(t, src("s1", true))
	ctx := context.Background()

	stale, _ := r.BeginSync(ctx, "s1")
	require.NoError(t, r.CompleteSync(ctx, stale, Outcome{Status: model.SyncError}))

	err := r.CompleteSync(ctx, stale, Outcome{Status: model.SyncSuccess})
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestEnabledIDs_SkipsDisabled(t *testing.T) {
	r := newTestRegistry(t, src("a", true), src("b", false), src("c", true))

	assert.Equal(t, []string{"a", "c"}, r.EnabledIDs())

	// Disabled sources are still claimable by explicit id.
	_, err := r.BeginSync(context.Background(), "b")
	assert.NoError(t, err)
}

func TestSetEnabled(t *testing.T) {
	r := newTestRegistry(t, src("a", true))
	require.NoError(t, r.SetEnabled(context.Background(), "a", false))
	assert.Empty(t, r.EnabledIDs())

	err := r.SetEnabled(context.Background(), "ghost", true)
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestLoad_DemotesOrphanedSyncing(t *testing.T) {
	r := New(nil, zap.NewNop())
	orphan := src("s1", true)
	orphan.Status = model.SourceSyncing
	require.NoError(t, r.Load(context.Background(), []model.DataSource{orphan}))

	got, _ := r.Get("s1")
	assert.Equal(t, model.SourceError, got.Status)
	assert.Equal(t, int64(1), got.ErrorCount)
}
