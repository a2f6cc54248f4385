package store

// GetCursor returns the persisted replay position for streamName, or the
// zero-value cursor (txId="", eventSeq=0) if the stream has never been
// polled, so a first call behaves like "replay from genesis".
func (s *Store) GetCursor(streamName string) (EventCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c EventCursor
	err := s.get(cursorKey(streamName), &c)
	if err == ErrNotFound {
		return EventCursor{StreamName: streamName}, nil
	}
	if err != nil {
		return EventCursor{}, err
	}
	return c, nil
}

// PutCursor advances streamName's replay position. Callers must only
// advance a cursor after fully processing the event it points past:
// advancing early and then failing would silently drop the event on
// the next poll.
func (s *Store) PutCursor(c EventCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(cursorKey(c.StreamName), c)
}
