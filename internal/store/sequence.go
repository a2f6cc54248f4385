package store

// GetSequence returns the last-processed sequence for emitterKey, or the
// zero value ("") if none has been recorded.
func (s *Store) GetSequence(emitterKey string) (SequenceMark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m SequenceMark
	err := s.get(sequenceKey(emitterKey), &m)
	if err == ErrNotFound {
		return SequenceMark{EmitterKey: emitterKey}, nil
	}
	if err != nil {
		return SequenceMark{}, err
	}
	return m, nil
}

// PutSequence records the last-processed sequence for emitterKey. Like
// PutCursor, this must only be called after the corresponding message has
// been durably applied.
func (s *Store) PutSequence(m SequenceMark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(sequenceKey(m.EmitterKey), m)
}
