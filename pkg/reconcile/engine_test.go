package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatview/pkg/cache"
	"chatview/pkg/logger"
	"chatview/pkg/models"
)

func init() { logger.Init() }

func newEngine() *Engine {
	return New(cache.NewThread(), cache.NewPending(), cache.NewLedger())
}

func placeholder(e *Engine, key string, ts int64, st models.Status) *models.Message {
	m := &models.Message{
		ID:             key,
		CorrelationKey: key,
		CreatedAt:      ts,
		Payload:        models.TextPayload("local"),
		Status:         st,
	}
	e.Pending.Register(key, m)
	e.Cache.Upsert(m)
	return m
}

func TestMergePendingPlaceholder(t *testing.T) {
	// Scenario B: placeholder K uploading, echo arrives with a new id.
	e := newEngine()
	m := placeholder(e, "K", 1000, models.StatusUploading)
	m.Progress = 80

	e.Apply(&models.RemoteEvent{
		ID:             "X",
		CorrelationKey: "K",
		CreatedAt:      1005,
		Payload:        models.Payload{Kind: models.PayloadImage, Ref: "blob/1"},
	})

	require.Equal(t, 1, e.Cache.Len())
	got := e.Cache.All()[0]
	assert.Same(t, m, got, "merge mutates the original record, not a copy")
	assert.Equal(t, "X", got.ID)
	assert.Equal(t, models.StatusDelivered, got.Status)
	assert.Equal(t, "blob/1", got.Payload.Ref)
	assert.Zero(t, got.Progress)
	assert.Nil(t, e.Pending.Get("K"), "placeholder entry must be gone")
	assert.True(t, e.Ledger.Seen("X"))
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	// Scenario C: the same event twice leaves the cache unchanged.
	e := newEngine()
	placeholder(e, "K", 1000, models.StatusSending)
	ev := &models.RemoteEvent{ID: "X", CorrelationKey: "K", CreatedAt: 1005, Payload: models.TextPayload("hi")}
	e.Apply(ev)
	e.Apply(ev)
	assert.Equal(t, 1, e.Cache.Len())
	assert.Zero(t, e.Pending.Len())
}

func TestClientChosenKeyEcho(t *testing.T) {
	// Under the client-chosen-key strategy the echo id equals the local id.
	// The pending match must win over the cache-membership check, or the
	// placeholder would be stuck in sending forever.
	e := newEngine()
	m := placeholder(e, "K", 1000, models.StatusSending)
	e.Apply(&models.RemoteEvent{ID: "K", CorrelationKey: "K", CreatedAt: 1000, Payload: models.TextPayload("hi")})
	require.Equal(t, 1, e.Cache.Len())
	assert.Equal(t, models.StatusDelivered, m.Status)
	assert.Zero(t, e.Pending.Len())
}

func TestRemoteTimestampWinsAndResorts(t *testing.T) {
	e := newEngine()
	e.Apply(&models.RemoteEvent{ID: "a", CreatedAt: 1002, Payload: models.TextPayload("a")})
	m := placeholder(e, "K", 1010, models.StatusSending)
	// Remote assigns an earlier authoritative timestamp than the local clock chose.
	e.Apply(&models.RemoteEvent{ID: "K", CorrelationKey: "K", CreatedAt: 1001, Payload: models.TextPayload("hi")})

	require.Equal(t, 2, e.Cache.Len())
	all := e.Cache.All()
	assert.Same(t, m, all[0], "merged message must re-sort before the older entry")
	assert.EqualValues(t, 1001, m.CreatedAt)
}

func TestReplayRecordsLedger(t *testing.T) {
	// An event already in the cache but unknown to a fresh ledger, e.g. a
	// reload replay, is discarded and recorded for the fast path.
	e := newEngine()
	e.Cache.Upsert(&models.Message{ID: "X", CreatedAt: 1000, Status: models.StatusDelivered})
	e.Apply(&models.RemoteEvent{ID: "X", CreatedAt: 1000, Payload: models.TextPayload("again")})
	assert.Equal(t, 1, e.Cache.Len())
	assert.True(t, e.Ledger.Seen("X"))
	// payload not overwritten
	assert.NotEqual(t, "again", e.Cache.All()[0].Payload.Text)
}

func TestNewMessageInserted(t *testing.T) {
	e := newEngine()
	e.Apply(&models.RemoteEvent{
		ID:        "Y",
		SenderID:  "u2",
		CreatedAt: 1000,
		Payload:   models.TextPayload("hello"),
	})
	require.Equal(t, 1, e.Cache.Len())
	got := e.Cache.All()[0]
	assert.Equal(t, models.StatusDelivered, got.Status)
	assert.Equal(t, "u2", got.SenderID)
}

func TestNoDuplicationAcrossArrivalOrders(t *testing.T) {
	// Property: placeholder+echo pairs interleaved with unrelated traffic
	// end up as exactly one cache entry per logical message.
	e := newEngine()
	placeholder(e, "K1", 1000, models.StatusSending)
	placeholder(e, "K2", 1001, models.StatusSending)

	e.Apply(&models.RemoteEvent{ID: "other1", CreatedAt: 999, Payload: models.TextPayload("x")})
	e.Apply(&models.RemoteEvent{ID: "E2", CorrelationKey: "K2", CreatedAt: 1003, Payload: models.TextPayload("b")})
	e.Apply(&models.RemoteEvent{ID: "other2", CreatedAt: 1004, Payload: models.TextPayload("y")})
	e.Apply(&models.RemoteEvent{ID: "E1", CorrelationKey: "K1", CreatedAt: 1002, Payload: models.TextPayload("a")})
	// redeliveries
	e.Apply(&models.RemoteEvent{ID: "E2", CorrelationKey: "K2", CreatedAt: 1003, Payload: models.TextPayload("b")})
	e.Apply(&models.RemoteEvent{ID: "other1", CreatedAt: 999, Payload: models.TextPayload("x")})

	assert.Equal(t, 4, e.Cache.Len())
	assert.Zero(t, e.Pending.Len())
	all := e.Cache.All()
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].CreatedAt, all[i].CreatedAt)
	}
}

func TestMergePlaceholderNotYetCached(t *testing.T) {
	// A placeholder registered but not yet rendered still merges cleanly.
	e := newEngine()
	m := &models.Message{ID: "K", CorrelationKey: "K", CreatedAt: 1000, Status: models.StatusSending}
	e.Pending.Register("K", m)
	e.Apply(&models.RemoteEvent{ID: "X", CorrelationKey: "K", CreatedAt: 1000, Payload: models.TextPayload("hi")})
	require.Equal(t, 1, e.Cache.Len())
	assert.Equal(t, "X", e.Cache.All()[0].ID)
}
