package storage

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-audit/pkg/models"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func activeEntry(loc models.ContentLocation, imageURL string) *models.RegistryEntry {
	return &models.RegistryEntry{
		ContentType: loc.ContentType,
		ContentID:   loc.ContentID,
		ContentURL:  loc.ContentURL,
		ImageURL:    imageURL,
		Context:     models.ContextContent,
		LastScanned: time.Now(),
		IsActive:    true,
	}
}

func TestRegistryEntryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	loc := models.PostLocation("post", 42)

	t.Run("absent entry is nil without error", func(t *testing.T) {
		entry, err := store.GetEntry(loc, "https://example.com/a.jpg")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("put assigns id, get returns it", func(t *testing.T) {
		entry := activeEntry(loc, "https://example.com/a.jpg")
		require.NoError(t, store.PutEntry(entry))
		assert.NotZero(t, entry.ID)

		got, err := store.GetEntry(loc, "https://example.com/a.jpg")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, entry.ID, got.ID)
		assert.Equal(t, "https://example.com/a.jpg", got.ImageURL)
		assert.True(t, got.IsActive)
	})

	t.Run("update keeps the existing id", func(t *testing.T) {
		first := activeEntry(loc, "https://example.com/b.jpg")
		require.NoError(t, store.PutEntry(first))

		second := activeEntry(loc, "https://example.com/b.jpg")
		second.AltText = "updated"
		second.HasAltText = true
		require.NoError(t, store.PutEntry(second))
		assert.Equal(t, first.ID, second.ID)

		got, err := store.GetEntry(loc, "https://example.com/b.jpg")
		require.NoError(t, err)
		assert.Equal(t, "updated", got.AltText)

		entries, err := store.ListEntries(loc, false)
		require.NoError(t, err)
		assert.Len(t, entries, 2) // a.jpg + b.jpg, no duplicate rows
	})
}

func TestRegistryCompositeKeyIsolation(t *testing.T) {
	store := newTestStore(t)

	postLoc := models.PostLocation("post", 7)
	pageLoc := models.PostLocation("page", 7)
	nullLoc := models.URLLocation("theme", "logo")

	require.NoError(t, store.PutEntry(activeEntry(postLoc, "https://example.com/x.jpg")))
	require.NoError(t, store.PutEntry(activeEntry(pageLoc, "https://example.com/x.jpg")))
	require.NoError(t, store.PutEntry(activeEntry(nullLoc, "https://example.com/x.jpg")))

	for _, loc := range []models.ContentLocation{postLoc, pageLoc, nullLoc} {
		entries, err := store.ListEntries(loc, true)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "location %s", loc.String())
	}
}

func TestMarkInactive(t *testing.T) {
	store := newTestStore(t)
	loc := models.PostLocation("post", 1)

	for _, u := range []string{"https://e.com/a.jpg", "https://e.com/b.jpg", "https://e.com/c.jpg"} {
		require.NoError(t, store.PutEntry(activeEntry(loc, u)))
	}

	now := time.Now()
	keep := map[string]struct{}{
		"https://e.com/a.jpg": {},
	}
	retired, err := store.MarkInactive(loc, keep, now)
	require.NoError(t, err)
	assert.Equal(t, 2, retired)

	active, err := store.ListEntries(loc, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "https://e.com/a.jpg", active[0].ImageURL)

	all, err := store.ListEntries(loc, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// A second pass with the same keep-set retires nothing further
	retired, err = store.MarkInactive(loc, keep, now)
	require.NoError(t, err)
	assert.Zero(t, retired)
}

func TestMarkInactiveScopedToLocation(t *testing.T) {
	store := newTestStore(t)
	locA := models.PostLocation("post", 1)
	locB := models.PostLocation("post", 2)

	require.NoError(t, store.PutEntry(activeEntry(locA, "https://e.com/a.jpg")))
	require.NoError(t, store.PutEntry(activeEntry(locB, "https://e.com/a.jpg")))

	retired, err := store.MarkInactive(locA, map[string]struct{}{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, retired)

	// The other location's entry stays active
	entries, err := store.ListEntries(locB, true)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPurgeStaleEntries(t *testing.T) {
	store := newTestStore(t)
	loc := models.PostLocation("post", 1)

	stale := activeEntry(loc, "https://e.com/old.jpg")
	stale.IsActive = false
	stale.LastScanned = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.PutEntry(stale))

	recent := activeEntry(loc, "https://e.com/recent.jpg")
	recent.IsActive = false
	recent.LastScanned = time.Now()
	require.NoError(t, store.PutEntry(recent))

	activeOld := activeEntry(loc, "https://e.com/active.jpg")
	activeOld.LastScanned = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.PutEntry(activeOld))

	purged, err := store.PurgeStaleEntries(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	all, err := store.ListEntries(loc, false)
	require.NoError(t, err)
	assert.Len(t, all, 2) // Recent-inactive and active-but-old survive
}

func TestIterateEntries(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutEntry(activeEntry(models.PostLocation("post", 1), "https://e.com/a.jpg")))
	require.NoError(t, store.PutEntry(activeEntry(models.PostLocation("page", 2), "https://e.com/b.jpg")))

	count := 0
	err := store.IterateEntries(func(entry *models.RegistryEntry) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// fn error stops iteration and propagates
	sentinel := errors.New("stop")
	err = store.IterateEntries(func(entry *models.RegistryEntry) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestLocatorCache(t *testing.T) {
	store := newTestStore(t)

	t.Run("miss returns nil", func(t *testing.T) {
		entry, err := store.GetCacheEntry("deadbeef")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("round trip with nil resource id", func(t *testing.T) {
		entry := &models.LocatorCacheEntry{
			URL:               "https://external.com/a.jpg",
			ResourceID:        nil,
			LastVerified:      time.Now(),
			VerificationCount: 1,
		}
		require.NoError(t, store.PutCacheEntry("key1", entry))

		got, err := store.GetCacheEntry("key1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Nil(t, got.ResourceID)
		assert.Equal(t, int64(1), got.VerificationCount)
	})

	t.Run("purge removes unverified entries", func(t *testing.T) {
		id := int64(7)
		old := &models.LocatorCacheEntry{URL: "https://e.com/old.jpg", ResourceID: &id, LastVerified: time.Now().Add(-30 * 24 * time.Hour)}
		fresh := &models.LocatorCacheEntry{URL: "https://e.com/fresh.jpg", ResourceID: &id, LastVerified: time.Now()}
		require.NoError(t, store.PutCacheEntry("old", old))
		require.NoError(t, store.PutCacheEntry("fresh", fresh))

		purged, err := store.PurgeUnverifiedCache(time.Now().Add(-7 * 24 * time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, purged)

		got, err := store.GetCacheEntry("fresh")
		require.NoError(t, err)
		assert.NotNil(t, got)
		got, err = store.GetCacheEntry("old")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestScanStatus(t *testing.T) {
	store := newTestStore(t)
	loc := models.PostLocation("post", 42)

	t.Run("absent is nil", func(t *testing.T) {
		status, err := store.GetScanStatus(loc)
		require.NoError(t, err)
		assert.Nil(t, status)
	})

	t.Run("round trip", func(t *testing.T) {
		id := int64(42)
		status := &models.ScanStatus{
			ContentType: "post",
			ContentID:   &id,
			LastScanned: time.Now(),
			ImagesFound: 3,
			State:       models.ScanStateCompleted,
		}
		require.NoError(t, store.PutScanStatus(status))

		got, err := store.GetScanStatus(loc)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.ScanStateCompleted, got.State)
		assert.Equal(t, 3, got.ImagesFound)
	})
}

func TestListStuckScans(t *testing.T) {
	store := newTestStore(t)

	put := func(id int64, state models.ScanState, age time.Duration) {
		status := &models.ScanStatus{
			ContentType: "post",
			ContentID:   &id,
			LastScanned: time.Now().Add(-age),
			State:       state,
		}
		require.NoError(t, store.PutScanStatus(status))
	}

	put(1, models.ScanStateScanning, time.Hour)     // stuck
	put(2, models.ScanStatePending, time.Hour)      // stuck
	put(3, models.ScanStateScanning, time.Second)   // recent, in flight
	put(4, models.ScanStateCompleted, time.Hour)    // terminal
	put(5, models.ScanStateError, time.Hour)        // terminal

	stuck, err := store.ListStuckScans(time.Now().Add(-5 * time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 2)

	ids := []int64{*stuck[0].ContentID, *stuck[1].ContentID}
	assert.ElementsMatch(t, []int64{1, 2}, ids)
}

func TestStatsCache(t *testing.T) {
	store := newTestStore(t)

	t.Run("miss", func(t *testing.T) {
		_, hit, err := store.GetStats("coverage")
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("round trip within ttl", func(t *testing.T) {
		require.NoError(t, store.PutStats("coverage", []byte(`{"ok":true}`), time.Hour))
		payload, hit, err := store.GetStats("coverage")
		require.NoError(t, err)
		require.True(t, hit)
		assert.JSONEq(t, `{"ok":true}`, string(payload))
	})

	t.Run("expires via ttl", func(t *testing.T) {
		require.NoError(t, store.PutStats("short", []byte("x"), 50*time.Millisecond))
		time.Sleep(150 * time.Millisecond)
		_, hit, err := store.GetStats("short")
		require.NoError(t, err)
		assert.False(t, hit)
	})
}

func TestLocks(t *testing.T) {
	store := newTestStore(t)
	key := models.PostLocation("post", 42).Key()

	t.Run("acquire then conflict", func(t *testing.T) {
		ok, err := store.AcquireLock(key, "token-a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.AcquireLock(key, "token-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("release is token-checked", func(t *testing.T) {
		require.NoError(t, store.ReleaseLock(key, "token-b")) // Not the holder: no-op
		ok, err := store.AcquireLock(key, "token-c", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.ReleaseLock(key, "token-a"))
		ok, err = store.AcquireLock(key, "token-c", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expires via ttl", func(t *testing.T) {
		other := models.PostLocation("post", 43).Key()
		ok, err := store.AcquireLock(other, "token-x", 50*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(150 * time.Millisecond)
		ok, err = store.AcquireLock(other, "token-y", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	logger := testLogger()

	store1, err := NewBadgerStore(dir, logger)
	require.NoError(t, err)
	loc := models.PostLocation("post", 1)
	entry := activeEntry(loc, "https://e.com/a.jpg")
	require.NoError(t, store1.PutEntry(entry))
	firstID := entry.ID
	require.NoError(t, store1.Close())

	store2, err := NewBadgerStore(dir, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	got, err := store2.GetEntry(loc, "https://e.com/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, firstID, got.ID)

	// New inserts after reopen keep ids strictly increasing
	other := activeEntry(loc, "https://e.com/b.jpg")
	require.NoError(t, store2.PutEntry(other))
	assert.Greater(t, other.ID, firstID)
}
