package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Store persists session state per student in Badger.
// Keys are "sess:<uid>" (JSON) with a TTL, so stale sessions expire on
// their own instead of accumulating.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// DefaultTTL matches the observed lifetime of an SSO session cookie.
const DefaultTTL = 12 * time.Hour

// OpenStore opens (or creates) a Badger session store at path.
func OpenStore(path string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func sessionKey(uid string) []byte { return []byte("sess:" + uid) }

// Put saves a session snapshot for a student.
func (s *Store) Put(ctx context.Context, uid string, state *State) error {
	buf, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(sessionKey(uid), buf).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
}

// Get loads the saved session for a student. The second return is false
// when no session is stored or it has expired.
func (s *Store) Get(ctx context.Context, uid string) (*State, bool, error) {
	var state State
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(uid))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &state, true, nil
}

// Delete removes the saved session for a student.
func (s *Store) Delete(ctx context.Context, uid string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(uid))
	})
}
