package store

import (
	"encoding/json"
	"time"
)

// AddPresign inserts a freshly-generated presign entry in PresignAvailable
// state.
func (s *Store) AddPresign(entry PresignEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.SchemaVersion = SchemaVersion
	entry.Status = PresignAvailable
	entry.CreatedAt = time.Now().UTC()
	return s.set(presignKey(entry.ObjectID), entry)
}

// LeasePresign atomically claims the oldest PresignAvailable entry for
// leasedFor (a session id) and marks it PresignLeased. Any lease older
// than ttl is reclaimed back to PresignAvailable first, under the same
// lock, so a lease that expired since the last background reclaim tick
// is still visible to this call. The pool is small enough in practice
// that a full-prefix scan to find the oldest available entry is simpler
// and just as correct as maintaining a secondary createdAt-ordered
// index, and it is still O(pool size) under the same mutex that guards
// every other presign mutation.
func (s *Store) LeasePresign(leasedFor string, ttl time.Duration) (PresignEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.reclaimExpiredLeasesLocked(ttl); err != nil {
		return PresignEntry{}, err
	}

	var oldest *PresignEntry
	err := s.scanPrefix(prefixPresign, func(key, value []byte) error {
		var e PresignEntry
		if err := json.Unmarshal(value, &e); err != nil {
			return err
		}
		if e.Status != PresignAvailable {
			return nil
		}
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
			cp := e
			oldest = &cp
		}
		return nil
	})
	if err != nil {
		return PresignEntry{}, err
	}
	if oldest == nil {
		return PresignEntry{}, ErrNoPresignAvailable
	}

	oldest.Status = PresignLeased
	oldest.LeasedAt = time.Now().UTC()
	oldest.LeasedFor = leasedFor
	if err := s.set(presignKey(oldest.ObjectID), *oldest); err != nil {
		return PresignEntry{}, err
	}
	return *oldest, nil
}

// MarkPresignConsumed transitions a leased entry to PresignConsumed, the
// terminal state reached once a signature has actually been produced with
// it. It is a guarded transition: an entry not currently leased for
// sessionID is left untouched and (false, nil) is returned.
func (s *Store) MarkPresignConsumed(objectID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var e PresignEntry
	if err := s.get(presignKey(objectID), &e); err != nil {
		return false, err
	}
	if e.Status != PresignLeased || e.LeasedFor != sessionID {
		return false, nil
	}
	e.Status = PresignConsumed
	if err := s.set(presignKey(objectID), e); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLease returns a leased entry to PresignAvailable immediately,
// for use on a signing failure path that did not consume the presign
//. Unlike ReclaimExpiredLeases this does not
// wait for the TTL and is guarded on the caller actually holding the
// lease.
func (s *Store) ReleaseLease(objectID, leasedFor string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var e PresignEntry
	if err := s.get(presignKey(objectID), &e); err != nil {
		return false, err
	}
	if e.Status != PresignLeased || e.LeasedFor != leasedFor {
		return false, nil
	}
	e.Status = PresignAvailable
	e.LeasedAt = time.Time{}
	e.LeasedFor = ""
	if err := s.set(presignKey(objectID), e); err != nil {
		return false, err
	}
	return true, nil
}

// ReclaimExpiredLeases returns any PresignLeased entry whose LeasedAt is
// older than ttl back to PresignAvailable, clearing LeasedFor/LeasedAt. It
// never touches PresignConsumed entries: open question (ii),
// consumed entries are kept indefinitely for audit and reclaim must not
// resurrect them.
//
// LeasePresign already performs this same reclaim inline before picking
// an entry to lease, so this exported entry point exists for the
// standalone background sweep in PresignPool.RunReclaimLoop, which
// catches leases that expire while nothing is actively leasing.
//
// TODO: once an audit export job exists, age out PresignConsumed rows
// older than its retention window instead of keeping them forever.
func (s *Store) ReclaimExpiredLeases(ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reclaimExpiredLeasesLocked(ttl)
}

// reclaimExpiredLeasesLocked does the work of ReclaimExpiredLeases. The
// caller must already hold s.mu.
func (s *Store) reclaimExpiredLeasesLocked(ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	var expired []PresignEntry
	err := s.scanPrefix(prefixPresign, func(key, value []byte) error {
		var e PresignEntry
		if err := json.Unmarshal(value, &e); err != nil {
			return err
		}
		if e.Status == PresignLeased && e.LeasedAt.Before(cutoff) {
			expired = append(expired, e)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, e := range expired {
		e.Status = PresignAvailable
		e.LeasedAt = time.Time{}
		e.LeasedFor = ""
		if err := s.set(presignKey(e.ObjectID), e); err != nil {
			return 0, err
		}
		s.log.Warn("reclaimed expired presign lease", "objectId", e.ObjectID)
	}
	return len(expired), nil
}

// CountAvailable returns the number of PresignAvailable entries.
func (s *Store) CountAvailable() (int, error) {
	stats, err := s.PresignStats()
	if err != nil {
		return 0, err
	}
	return stats.Available, nil
}

// PresignStats summarizes the pool's occupancy across all three states.
func (s *Store) PresignStats() (PresignStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats PresignStats
	err := s.scanPrefix(prefixPresign, func(key, value []byte) error {
		var e PresignEntry
		if err := json.Unmarshal(value, &e); err != nil {
			return err
		}
		stats.Total++
		switch e.Status {
		case PresignAvailable:
			stats.Available++
		case PresignLeased:
			stats.Leased++
		case PresignConsumed:
			stats.Consumed++
		}
		return nil
	})
	if err != nil {
		return PresignStats{}, err
	}
	return stats, nil
}
