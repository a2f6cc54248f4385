package store

import (
	"encoding/hex"
	"encoding/json"
	"time"
)

// CreateSessionParams carries the fields known at session creation; the
// rest of Session is populated incrementally as the FSM advances.
type CreateSessionParams struct {
	SessionID       string
	ReceiverAddress string
	SourceChain     string
}

// Create inserts a new session in StatusAwaitingPayment and returns
// ErrConflict if the session id is already taken. The (sourceChain,
// nftContract, tokenId) and paymentTxId uniqueness guards are not checked
// here: both fields are filled in by later stages, and the guards run when
// Update or Transition persists the session.
func (s *Store) Create(p CreateSessionParams) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(p.SessionID)
	exists, err := s.has(key)
	if err != nil {
		return Session{}, err
	}
	if exists {
		return Session{}, ErrConflict
	}

	now := time.Now().UTC()
	sess := Session{
		SchemaVersion:   SchemaVersion,
		SessionID:       p.SessionID,
		ReceiverAddress: p.ReceiverAddress,
		SourceChain:     p.SourceChain,
		Status:          StatusAwaitingPayment,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.set(key, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Load fetches a session by id.
func (s *Store) Load(sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sess Session
	if err := s.get(sessionKey(sessionID), &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// LoadByDepositAddress resolves the session bound to a derived deposit
// address, used by DepositVerifier and the event poller to correlate an
// on-chain deposit with its session without a linear scan.
func (s *Store) LoadByDepositAddress(depositAddress []byte) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hexAddr := hex.EncodeToString(depositAddress)
	var sessionID string
	if err := s.get(sessionByDepositKey(hexAddr), &sessionID); err != nil {
		return Session{}, err
	}
	var sess Session
	if err := s.get(sessionKey(sessionID), &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// LoadBySourceNFT resolves the session bound to a (sourceChain,
// nftContract, tokenId) triple, used by the mint submitter to find the
// session a SealSigned event's target belongs to without a linear scan.
func (s *Store) LoadBySourceNFT(sourceChain, nftContract, tokenID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sessionID string
	if err := s.get(sessionByNFTKey(sourceChain, nftContract, tokenID), &sessionID); err != nil {
		return Session{}, err
	}
	var sess Session
	if err := s.get(sessionKey(sessionID), &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Update applies mutate to the current session and persists the result
// unconditionally (no expected-status guard). Use Transition instead when
// the caller must not clobber a concurrent status change.
func (s *Store) Update(sessionID string, mutate func(*Session)) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess Session
	if err := s.get(sessionKey(sessionID), &sess); err != nil {
		return Session{}, err
	}
	mutate(&sess)
	sess.UpdatedAt = time.Now().UTC()
	if err := s.persistSessionLocked(sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Transition moves a session from expectedStatus to newStatus, applying
// extras in the same mutation, but only if the session's current status
// still equals expectedStatus. This is the guarded "UPDATE ... WHERE
// status=expected" primitive requires: it returns (false, nil)
// rather than an error on a stale caller, since losing the race is an
// expected outcome for at-most-once state advancement, not a failure.
func (s *Store) Transition(sessionID string, expectedStatus, newStatus Status, extras func(*Session)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess Session
	if err := s.get(sessionKey(sessionID), &sess); err != nil {
		return false, err
	}
	if sess.Status != expectedStatus {
		return false, nil
	}
	sess.Status = newStatus
	if extras != nil {
		extras(&sess)
	}
	sess.UpdatedAt = time.Now().UTC()
	if err := s.persistSessionLocked(sess); err != nil {
		return false, err
	}
	return true, nil
}

// persistSessionLocked writes the session record plus any secondary
// indexes implied by fields that are now set, atomically. mu must
// already be held.
func (s *Store) persistSessionLocked(sess Session) error {
	sessValue, err := encode(sess)
	if err != nil {
		return err
	}
	puts := []batchPut{{key: sessionKey(sess.SessionID), value: sessValue}}

	if sess.PaymentTxID != "" {
		existingID, err := s.lookupIndex(sessionByPayTxKey(sess.PaymentTxID))
		if err != nil {
			return err
		}
		if existingID != "" && existingID != sess.SessionID {
			return ErrDuplicatePayment
		}
		idValue, err := encode(sess.SessionID)
		if err != nil {
			return err
		}
		puts = append(puts, batchPut{key: sessionByPayTxKey(sess.PaymentTxID), value: idValue})
	}

	if len(sess.DepositAddress) > 0 {
		hexAddr := hex.EncodeToString(sess.DepositAddress)
		idValue, err := encode(sess.SessionID)
		if err != nil {
			return err
		}
		puts = append(puts, batchPut{key: sessionByDepositKey(hexAddr), value: idValue})
	}

	if sess.NFTContract != "" && sess.TokenID != "" {
		nftKey := sessionByNFTKey(sess.SourceChain, sess.NFTContract, sess.TokenID)
		existingID, err := s.lookupIndex(nftKey)
		if err != nil {
			return err
		}
		if existingID != "" && existingID != sess.SessionID {
			return ErrDuplicateNFT
		}
		idValue, err := encode(sess.SessionID)
		if err != nil {
			return err
		}
		puts = append(puts, batchPut{key: nftKey, value: idValue})
	}

	return s.commitBatch(puts, nil)
}

func (s *Store) lookupIndex(key []byte) (string, error) {
	var id string
	if err := s.get(key, &id); err != nil {
		if err == ErrNotFound {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// ExpireStaleSessions transitions every session in a non-terminal status
// whose CreatedAt is older than olderThan into StatusError, recording
// reason as the ErrorMessage. It returns the number of sessions expired.
// Staleness is judged against CreatedAt, not UpdatedAt, so a session stuck
// retrying in an intermediate status is still swept on its original age.
func (s *Store) ExpireStaleSessions(olderThan time.Duration, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var stale []Session
	err := s.scanPrefix(prefixSession, func(key, value []byte) error {
		var sess Session
		if err := json.Unmarshal(value, &sess); err != nil {
			return err
		}
		if sess.SessionID == "" {
			return nil
		}
		if IntermediateStatuses[sess.Status] && sess.CreatedAt.Before(cutoff) {
			stale = append(stale, sess)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, sess := range stale {
		sess.Status = StatusError
		sess.ErrorMessage = reason
		sess.UpdatedAt = time.Now().UTC()
		if err := s.persistSessionLocked(sess); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
