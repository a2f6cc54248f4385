package store

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/rebornbridge/relayer/internal/rlog"
)

var (
	// ErrNotFound is returned by load-style operations when the key is absent.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned by Create when a session with the same id
	// already exists. A Transition whose expectedStatus does not match
	// reports (false, nil) instead.
	ErrConflict = errors.New("store: status conflict")
	// ErrDuplicatePayment is returned by Update/Transition when paymentTxId
	// has already been used for a different session.
	ErrDuplicatePayment = errors.New("store: payment tx already bridged")
	// ErrDuplicateNFT is returned by Update/Transition when the (sourceChain,
	// nftContract, tokenId) triple is already bound to a session:
	// double-bridging after a prior seal error is forbidden.
	ErrDuplicateNFT = errors.New("store: nft already bridged")
	// ErrNoPresignAvailable is returned by lease when the pool is empty.
	ErrNoPresignAvailable = errors.New("store: no presign entries available")
)

// Store is the embedded, single-process key-value store backing all
// daemon state. Every guarded read-modify-write sequence is serialized
// behind mu so concurrent callers can never observe or act on a stale
// read, the same guarantee asks of "UPDATE ... WHERE status=
// expected" against a SQL backend.
type Store struct {
	db  *pebble.DB
	mu  sync.Mutex
	log interface {
		Warn(string, ...interface{})
	}
}

// Open opens (creating if absent) a Pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: rlog.New("store")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte, out interface{}) error {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(value, out)
}

func (s *Store) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *Store) set(key []byte, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Set(key, b, pebble.Sync)
}

// batchPut is a helper for committing several key/value writes atomically.
type batchPut struct {
	key   []byte
	value []byte
}

func (s *Store) commitBatch(puts []batchPut, deletes [][]byte) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, p := range puts {
		if err := b.Set(p.key, p.value, nil); err != nil {
			return err
		}
	}
	for _, d := range deletes {
		if err := b.Delete(d, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// scanPrefix iterates every key under prefix, calling fn with the raw
// value bytes for each. fn returning an error stops the scan early and
// the error propagates.
func (s *Store) scanPrefix(prefix string, fn func(key, value []byte) error) error {
	lower := []byte(prefix)
	upper := prefixUpperBound(lower)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return iter.Error()
}

// prefixUpperBound returns the smallest byte string that is strictly
// greater than every string sharing prefix, bounding a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff, unbounded above
}
