package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"veridibloc/storage"
)

// Manager provides typed access to the durable map store shared by every
// contract runtime. All values live in the fixed-width signed 64-bit integer
// domain of the host platform; a key that was never written reads as zero.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) getInt64(key []byte) (int64, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: malformed value at %q", key)
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func (m *Manager) setInt64(key []byte, v int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return m.db.Put(key, buf)
}

// Contract binds the manager to one contract's isolated namespace.
func (m *Manager) Contract(id int64) *ContractState {
	return &ContractState{m: m, contract: id}
}

// ContractState exposes the per-contract map store: independent key→value
// tables plus named contract variables. Namespaces of distinct contracts
// never collide.
type ContractState struct {
	m        *Manager
	contract int64
}

// MapGet reads table k1, key k2. Absence reads as zero, the platform's unset
// sentinel: "not present" and "explicitly zero" are indistinguishable.
func (cs *ContractState) MapGet(k1, k2 int64) (int64, error) {
	return cs.m.getInt64(mapKey(cs.contract, k1, k2))
}

// MapSet writes table k1, key k2.
func (cs *ContractState) MapSet(k1, k2, v int64) error {
	return cs.m.setInt64(mapKey(cs.contract, k1, k2), v)
}

// Var reads a named contract variable (zero when never written).
func (cs *ContractState) Var(name string) (int64, error) {
	return cs.m.getInt64(varKey(cs.contract, name))
}

// SetVar writes a named contract variable.
func (cs *ContractState) SetVar(name string, v int64) error {
	return cs.m.setInt64(varKey(cs.contract, name), v)
}
