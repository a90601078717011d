package controllers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_CreateGetDelete(t *testing.T) {
	store := NewSessionStore(time.Minute, newTestLogger())

	sess := &Session{Key: UserKey(7), Kind: KindFlatAdd, State: AwaitingName{}}
	require.NoError(t, store.Create(sess))
	assert.True(t, store.Has(UserKey(7)))
	assert.Same(t, sess, store.Get(UserKey(7)))
	assert.Nil(t, store.Get(GroupKey(7)))

	// one session per key
	err := store.Create(&Session{Key: UserKey(7), Kind: KindBulkLoad})
	assert.Error(t, err)
	assert.Equal(t, KindFlatAdd, store.Get(UserKey(7)).Kind)

	store.Delete(sess, "cancelled")
	assert.False(t, store.Has(UserKey(7)))
	assert.Zero(t, store.Count())
}

func TestSessionStore_IdleExpiry(t *testing.T) {
	store := NewSessionStore(50*time.Millisecond, newTestLogger())
	require.NoError(t, store.Create(&Session{Key: UserKey(1), Kind: KindFlatAdd, State: AwaitingName{}}))

	assert.Eventually(t, func() bool { return !store.Has(UserKey(1)) }, 3*time.Second, 20*time.Millisecond)
}

func TestSessionStore_TouchExtendsLifetime(t *testing.T) {
	store := NewSessionStore(200*time.Millisecond, newTestLogger())
	sess := &Session{Key: UserKey(1), Kind: KindFlatAdd, State: AwaitingName{}}
	require.NoError(t, store.Create(sess))

	for i := 0; i < 4; i++ {
		time.Sleep(100 * time.Millisecond)
		store.Touch(sess)
	}
	assert.True(t, store.Has(UserKey(1)))
	store.Delete(sess, "cancelled")
}

func TestSessionStore_Snapshot(t *testing.T) {
	store := NewSessionStore(time.Minute, newTestLogger())

	bundle := NewBundle("Show", "")
	bundle.Append(bundle.OpenSeason("Temporada 1"), FileRef{MessageID: 1})
	require.NoError(t, store.Create(&Session{Key: UserKey(1), Kind: KindMultiSeasonAdd, State: ReceivingFiles{Bucket: 0}, Bundle: bundle}))
	require.NoError(t, store.Create(&Session{Key: GroupKey(-5), Kind: KindBulkLoad, State: AwaitingName{}}))

	snap := store.Snapshot()
	require.Len(t, snap, 2)

	byKey := map[string]SessionInfo{}
	for _, info := range snap {
		byKey[info.Key] = info
	}
	assert.Equal(t, PhaseReceivingFiles, byKey["user:1"].Phase)
	assert.Equal(t, 1, byKey["user:1"].Files)
	assert.Equal(t, KindBulkLoad, byKey["group:-5"].Kind)
	assert.Zero(t, byKey["group:-5"].Files)
}

func TestSessionStore_ReplacingExpiredSessionKeepsGaugeBalanced(t *testing.T) {
	// the janitor runs every second at the earliest, so the first session
	// is still stored, expired, when the second one is created
	store := NewSessionStore(200*time.Millisecond, newTestLogger())
	before := testutil.ToFloat64(activeSessions)

	require.NoError(t, store.Create(&Session{Key: UserKey(9), Kind: KindFlatAdd, State: AwaitingName{}}))
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, store.Create(&Session{Key: UserKey(9), Kind: KindBulkLoad, State: AwaitingName{}}))

	assert.Equal(t, before+1, testutil.ToFloat64(activeSessions))
	sess := store.Get(UserKey(9))
	require.NotNil(t, sess)
	assert.Equal(t, KindBulkLoad, sess.Kind)

	store.Delete(sess, "cancelled")
	assert.Equal(t, before, testutil.ToFloat64(activeSessions))
}

func TestSessionStore_SnapshotWhileFilesArrive(t *testing.T) {
	h := newIngestHarness(t)
	h.command("ser", "Show")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				for _, info := range h.ingest.Sessions().Snapshot() {
					assert.Equal(t, KindSeriesUpload, info.Kind)
				}
			}
		}
	}()

	for i := 0; i < 50; i++ {
		msg := h.message()
		msg.Video = &telegram.File{FileID: "video", FileName: "file.mp4"}
		require.NoError(t, h.ingest.HandleFile(context.Background(), msg))
	}
	close(stop)
	wg.Wait()

	snap := h.ingest.Sessions().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 50, snap[0].Files)
	assert.Equal(t, PhaseReceivingFiles, snap[0].Phase)
}

func TestSessionPhase(t *testing.T) {
	var nilSession *Session
	assert.Equal(t, PhaseIdle, nilSession.Phase())
	assert.Equal(t, PhaseAwaitingCover, (&Session{State: AwaitingCover{}}).Phase())
	assert.Equal(t, PhaseFinalizing, (&Session{State: Finalizing{}}).Phase())
}
