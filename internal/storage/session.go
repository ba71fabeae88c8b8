package storage

const (
	keyLastOrderID = "irsakitchen_last_order_id"
	keyRiderActive = "irsakitchen_rider_active"
)

// SessionStore exposes the two durable session scalars on top of a Store.
type SessionStore struct {
	store *Store
}

// NewSessionStore wraps store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

// LastOrderID returns the last order id the rider was alerted about.
func (s *SessionStore) LastOrderID() string {
	v, _ := s.store.Get(keyLastOrderID)
	return v
}

// SetLastOrderID persists id as the last seen order.
func (s *SessionStore) SetLastOrderID(id string) error {
	return s.store.Set(keyLastOrderID, id)
}

// Online reports whether the rider has gone online before.
func (s *SessionStore) Online() bool {
	v, _ := s.store.Get(keyRiderActive)
	return v == "true"
}

// SetOnline records that the rider granted permissions. The flag is never cleared.
func (s *SessionStore) SetOnline() error {
	return s.store.Set(keyRiderActive, "true")
}
