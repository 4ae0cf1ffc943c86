package state

// Height returns the last committed block height.
func (m *Manager) Height() (int64, error) {
	return m.getInt64(chainHeightKey)
}

// SetHeight records the last committed block height.
func (m *Manager) SetHeight(h int64) error {
	return m.setInt64(chainHeightKey, h)
}

// NextTxID hands out the next platform transaction id. Ids are monotonic and
// start at 1 because id 0 is the end-of-feed sentinel.
func (m *Manager) NextTxID() (int64, error) {
	next, err := m.getInt64(chainNextTxIDKey)
	if err != nil {
		return 0, err
	}
	next++
	if err := m.setInt64(chainNextTxIDKey, next); err != nil {
		return 0, err
	}
	return next, nil
}
