package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"image-audit/pkg/log"
	"image-audit/pkg/models"
	"image-audit/pkg/utils"
)

const (
	registryKeyPrefix = "reg:"   // Registry entries: reg:<locKey><sep><urlHash>
	locatorKeyPrefix  = "url:"   // Locator cache: url:<urlHash>
	statusKeyPrefix   = "scan:"  // Scan status: scan:<locKey>
	statsKeyPrefix    = "stats:" // Stats cache (badger TTL entries): stats:<key>
	lockKeyPrefix     = "lock:"  // Advisory locks (badger TTL entries): lock:<key>

	registrySeqKey = "!seq:registry" // Badger sequence backing entry IDs
	keySep         = "\x1f"

	registryDBDir = "registry_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the AuditStore interface using BadgerDB. All logical
// tables live in one database, separated by key prefixes.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the audit database under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, registryDBDir)
	logger.Infof("Opening registry database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", dbPath, err)
	}

	// Bandwidth 64: IDs only need to be unique and increasing, gaps from
	// unreleased leases are fine.
	seq, err := db.GetSequence([]byte(registrySeqKey), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open registry id sequence: %w", err)
	}

	logger.Info("Registry database initialized successfully.")
	return &BadgerStore{db: db, seq: seq, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return utils.WrapErrorf(utils.ErrDatabase, "transaction conflict not resolved after %d retries", maxConflictRetries)
}

func registryKey(loc models.ContentLocation, imageURL string) []byte {
	return []byte(registryKeyPrefix + loc.Key() + keySep + utils.HashURLKey(imageURL))
}

func registryLocPrefix(loc models.ContentLocation) []byte {
	return []byte(registryKeyPrefix + loc.Key() + keySep)
}

// GetEntry implements the RegistryStore interface
func (s *BadgerStore) GetEntry(loc models.ContentLocation, imageURL string) (*models.RegistryEntry, error) {
	key := registryKey(loc, imageURL)
	var entry *models.RegistryEntry

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil // Absent entry is not an error
		}
		if errGet != nil {
			return utils.WrapErrorf(utils.ErrDatabase, "getting registry key '%s': %v", string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.RegistryEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				return utils.WrapErrorf(utils.ErrParsing, "JSON decode of registry key '%s': %v", string(key), errJSON)
			}
			entry = &decoded
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB View error in GetEntry for key '%s': %v", string(key), errView)
		return nil, errView
	}
	return entry, nil
}

// PutEntry implements the RegistryStore interface
func (s *BadgerStore) PutEntry(entry *models.RegistryEntry) error {
	key := registryKey(entry.Location(), entry.ImageURL)

	err := s.dbUpdate(func(txn *badger.Txn) error {
		// Preserve the existing ID on update; allocate one on insert.
		item, errGet := txn.Get(key)
		switch {
		case errors.Is(errGet, badger.ErrKeyNotFound):
			if entry.ID == 0 {
				id, errSeq := s.seq.Next()
				if errSeq != nil {
					return utils.WrapErrorf(utils.ErrDatabase, "allocating registry id: %v", errSeq)
				}
				entry.ID = id + 1 // Sequence starts at 0, IDs start at 1
			}
		case errGet != nil:
			return errGet
		default:
			errVal := item.Value(func(val []byte) error {
				var existing models.RegistryEntry
				if errJSON := json.Unmarshal(val, &existing); errJSON == nil {
					entry.ID = existing.ID
				}
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}

		entryBytes, errJSON := json.Marshal(entry)
		if errJSON != nil {
			return utils.WrapErrorf(utils.ErrParsing, "JSON encode of registry entry %d: %v", entry.ID, errJSON)
		}
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in PutEntry: %v", err)
		return utils.WrapErrorf(utils.ErrDatabase, "putting registry key '%s': %v", string(key), err)
	}
	return nil
}

// ListEntries implements the RegistryStore interface
func (s *BadgerStore) ListEntries(loc models.ContentLocation, activeOnly bool) ([]*models.RegistryEntry, error) {
	prefix := registryLocPrefix(loc)
	var entries []*models.RegistryEntry

	errView := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			errVal := it.Item().Value(func(val []byte) error {
				var decoded models.RegistryEntry
				if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
					s.log.Warnf("Skipping undecodable registry entry at '%s': %v", string(it.Item().Key()), errJSON)
					return nil
				}
				if activeOnly && !decoded.IsActive {
					return nil
				}
				entries = append(entries, &decoded)
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}
		return nil
	})
	if errView != nil {
		return nil, utils.WrapErrorf(utils.ErrDatabase, "listing registry entries for '%s': %v", loc.String(), errView)
	}
	return entries, nil
}

// MarkInactive implements the RegistryStore interface
func (s *BadgerStore) MarkInactive(loc models.ContentLocation, keepURLs map[string]struct{}, now time.Time) (int, error) {
	prefix := registryLocPrefix(loc)
	retired := 0

	err := s.dbUpdate(func(txn *badger.Txn) error {
		retired = 0 // Reset in case the transaction retries

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Collect updates first; writing while iterating invalidates the
		// iterator's view.
		type update struct {
			key   []byte
			entry models.RegistryEntry
		}
		var updates []update

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			keyCopy := item.KeyCopy(nil)
			errVal := item.Value(func(val []byte) error {
				var decoded models.RegistryEntry
				if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
					s.log.Warnf("Skipping undecodable registry entry at '%s': %v", string(keyCopy), errJSON)
					return nil
				}
				if !decoded.IsActive {
					return nil
				}
				if _, keep := keepURLs[decoded.ImageURL]; keep {
					return nil
				}
				decoded.IsActive = false
				decoded.LastScanned = now
				updates = append(updates, update{key: keyCopy, entry: decoded})
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}
		it.Close()

		for _, u := range updates {
			entryBytes, errJSON := json.Marshal(&u.entry)
			if errJSON != nil {
				return utils.WrapErrorf(utils.ErrParsing, "JSON encode of registry entry %d: %v", u.entry.ID, errJSON)
			}
			if errSet := txn.SetEntry(badger.NewEntry(u.key, entryBytes)); errSet != nil {
				return errSet
			}
			retired++
		}
		return nil
	})
	if err != nil {
		s.log.Errorf("DB Update error in MarkInactive for '%s': %v", loc.String(), err)
		return 0, utils.WrapErrorf(utils.ErrDatabase, "marking inactive for '%s': %v", loc.String(), err)
	}
	return retired, nil
}

// PurgeStaleEntries implements the RegistryStore interface
func (s *BadgerStore) PurgeStaleEntries(cutoff time.Time) (int, error) {
	prefix := []byte(registryKeyPrefix)
	var staleKeys [][]byte

	errView := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			keyCopy := item.KeyCopy(nil)
			errVal := item.Value(func(val []byte) error {
				var decoded models.RegistryEntry
				if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
					return nil
				}
				if !decoded.IsActive && decoded.LastScanned.Before(cutoff) {
					staleKeys = append(staleKeys, keyCopy)
				}
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}
		return nil
	})
	if errView != nil {
		return 0, utils.WrapErrorf(utils.ErrDatabase, "scanning for stale registry entries: %v", errView)
	}

	purged := 0
	for _, key := range staleKeys {
		errDel := s.dbUpdate(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if errDel != nil {
			s.log.Errorf("Failed to purge stale registry entry '%s': %v", string(key), errDel)
			continue
		}
		purged++
	}
	return purged, nil
}

// IterateEntries implements the RegistryStore interface
func (s *BadgerStore) IterateEntries(fn func(*models.RegistryEntry) error) error {
	prefix := []byte(registryKeyPrefix)
	errView := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			errVal := it.Item().Value(func(val []byte) error {
				var decoded models.RegistryEntry
				if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
					return nil // Skip undecodable rows, same policy as ListEntries
				}
				return fn(&decoded)
			})
			if errVal != nil {
				return errVal
			}
		}
		return nil
	})
	if errView != nil {
		// Keep the chain intact: a sentinel returned by fn must survive
		// errors.Is at the caller.
		return fmt.Errorf("%w: iterating registry entries: %w", utils.ErrDatabase, errView)
	}
	return nil
}

// GetCacheEntry implements the LocatorCache interface
func (s *BadgerStore) GetCacheEntry(urlKey string) (*models.LocatorCacheEntry, error) {
	key := []byte(locatorKeyPrefix + urlKey)
	var entry *models.LocatorCacheEntry

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			var decoded models.LocatorCacheEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Undecodable locator cache entry '%s', treating as miss: %v", urlKey, errJSON)
				return nil
			}
			entry = &decoded
			return nil
		})
	})
	if errView != nil {
		return nil, utils.WrapErrorf(utils.ErrDatabase, "getting locator cache key '%s': %v", urlKey, errView)
	}
	return entry, nil
}

// PutCacheEntry implements the LocatorCache interface
func (s *BadgerStore) PutCacheEntry(urlKey string, entry *models.LocatorCacheEntry) error {
	key := []byte(locatorKeyPrefix + urlKey)
	entryBytes, errJSON := json.Marshal(entry)
	if errJSON != nil {
		return utils.WrapErrorf(utils.ErrParsing, "JSON encode of locator cache entry '%s': %v", urlKey, errJSON)
	}
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		return utils.WrapErrorf(utils.ErrDatabase, "putting locator cache key '%s': %v", urlKey, err)
	}
	return nil
}

// PurgeUnverifiedCache implements the LocatorCache interface
func (s *BadgerStore) PurgeUnverifiedCache(cutoff time.Time) (int, error) {
	prefix := []byte(locatorKeyPrefix)
	var staleKeys [][]byte

	errView := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			keyCopy := item.KeyCopy(nil)
			errVal := item.Value(func(val []byte) error {
				var decoded models.LocatorCacheEntry
				if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
					staleKeys = append(staleKeys, keyCopy) // Undecodable = purge
					return nil
				}
				if decoded.LastVerified.Before(cutoff) {
					staleKeys = append(staleKeys, keyCopy)
				}
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}
		return nil
	})
	if errView != nil {
		return 0, utils.WrapErrorf(utils.ErrDatabase, "scanning locator cache for purge: %v", errView)
	}

	purged := 0
	for _, key := range staleKeys {
		errDel := s.dbUpdate(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if errDel != nil {
			s.log.Errorf("Failed to purge locator cache entry '%s': %v", string(key), errDel)
			continue
		}
		purged++
	}
	return purged, nil
}

// GetScanStatus implements the StatusStore interface
func (s *BadgerStore) GetScanStatus(loc models.ContentLocation) (*models.ScanStatus, error) {
	key := []byte(statusKeyPrefix + loc.Key())
	var status *models.ScanStatus

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			var decoded models.ScanStatus
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Undecodable scan status '%s', treating as absent: %v", loc.String(), errJSON)
				return nil
			}
			status = &decoded
			return nil
		})
	})
	if errView != nil {
		return nil, utils.WrapErrorf(utils.ErrDatabase, "getting scan status for '%s': %v", loc.String(), errView)
	}
	return status, nil
}

// PutScanStatus implements the StatusStore interface
func (s *BadgerStore) PutScanStatus(status *models.ScanStatus) error {
	key := []byte(statusKeyPrefix + status.Location().Key())
	statusBytes, errJSON := json.Marshal(status)
	if errJSON != nil {
		return utils.WrapErrorf(utils.ErrParsing, "JSON encode of scan status for '%s': %v", status.Location().String(), errJSON)
	}
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, statusBytes))
	})
	if err != nil {
		return utils.WrapErrorf(utils.ErrDatabase, "putting scan status for '%s': %v", status.Location().String(), err)
	}
	return nil
}

// ListStuckScans implements the StatusStore interface
func (s *BadgerStore) ListStuckScans(cutoff time.Time) ([]*models.ScanStatus, error) {
	prefix := []byte(statusKeyPrefix)
	var stuck []*models.ScanStatus

	errView := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			errVal := it.Item().Value(func(val []byte) error {
				var decoded models.ScanStatus
				if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
					return nil
				}
				if decoded.State.IsTerminal() || !decoded.State.IsValid() {
					return nil
				}
				if decoded.LastScanned.Before(cutoff) {
					stuck = append(stuck, &decoded)
				}
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}
		return nil
	})
	if errView != nil {
		return nil, utils.WrapErrorf(utils.ErrDatabase, "listing stuck scans: %v", errView)
	}
	return stuck, nil
}

// GetStats implements the StatsCache interface. Expired entries vanish via
// Badger's native TTL, so a plain miss covers both "never cached" and
// "expired".
func (s *BadgerStore) GetStats(key string) ([]byte, bool, error) {
	dbKey := []byte(statsKeyPrefix + key)
	var payload []byte

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(dbKey)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		var errVal error
		payload, errVal = item.ValueCopy(nil)
		return errVal
	})
	if errView != nil {
		return nil, false, utils.WrapErrorf(utils.ErrDatabase, "getting stats cache key '%s': %v", key, errView)
	}
	return payload, payload != nil, nil
}

// PutStats implements the StatsCache interface
func (s *BadgerStore) PutStats(key string, payload []byte, ttl time.Duration) error {
	dbKey := []byte(statsKeyPrefix + key)
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(dbKey, payload).WithTTL(ttl))
	})
	if err != nil {
		return utils.WrapErrorf(utils.ErrDatabase, "putting stats cache key '%s': %v", key, err)
	}
	return nil
}

// AcquireLock implements the LockStore interface. The conditional insert runs
// inside one transaction, so two concurrent claims of the same key serialize:
// exactly one sees "not found" and wins. Expired locks vanish via Badger TTL.
func (s *BadgerStore) AcquireLock(key, token string, ttl time.Duration) (bool, error) {
	dbKey := []byte(lockKeyPrefix + key)
	acquired := false

	err := s.dbUpdate(func(txn *badger.Txn) error {
		acquired = false
		_, errGet := txn.Get(dbKey)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			if errSet := txn.SetEntry(badger.NewEntry(dbKey, []byte(token)).WithTTL(ttl)); errSet != nil {
				return errSet
			}
			acquired = true
			return nil
		}
		return errGet // nil when the lock is held by someone else
	})
	if err != nil {
		return false, utils.WrapErrorf(utils.ErrDatabase, "acquiring lock '%s': %v", key, err)
	}
	return acquired, nil
}

// ReleaseLock implements the LockStore interface
func (s *BadgerStore) ReleaseLock(key, token string) error {
	dbKey := []byte(lockKeyPrefix + key)
	err := s.dbUpdate(func(txn *badger.Txn) error {
		item, errGet := txn.Get(dbKey)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil // Already expired or released
		}
		if errGet != nil {
			return errGet
		}
		held := false
		errVal := item.Value(func(val []byte) error {
			held = string(val) == token
			return nil
		})
		if errVal != nil {
			return errVal
		}
		if !held {
			return nil // Someone else re-acquired after our TTL lapsed; leave it
		}
		return txn.Delete(dbKey)
	})
	if err != nil {
		return utils.WrapErrorf(utils.ErrDatabase, "releasing lock '%s': %v", key, err)
	}
	return nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute // Default interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			// Loop GC until it reports nothing left to rewrite
			var err error
			for {
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if s.seq != nil {
		if err := s.seq.Release(); err != nil {
			s.log.Errorf("Error releasing registry id sequence: %v", err)
		}
	}
	s.log.Info("Closing registry database...")
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing registry database: %v", err)
		return err
	}
	return nil
}
