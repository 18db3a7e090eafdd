package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
)

// MemoryStore keeps all state in process memory.
//
// Transactions serialise on per-key locks (one per session, one per user)
// and stage their writes until commit, so readers see committed state only.
// mu only guards the maps themselves and is never held across a caller's
// callback, so sessions do not contend with each other.
type MemoryStore struct {
	locks *keyLocks

	mu        sync.RWMutex
	sessions  map[string]*model.Session
	bookings  map[string]*model.Booking
	byUser    map[string][]string
	bySession map[string][]string
	waitlist  map[string]map[string]model.WaitlistEntry
	audit     map[string][]model.AuditLogEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:     newKeyLocks(),
		sessions:  make(map[string]*model.Session),
		bookings:  make(map[string]*model.Booking),
		byUser:    make(map[string][]string),
		bySession: make(map[string][]string),
		waitlist:  make(map[string]map[string]model.WaitlistEntry),
		audit:     make(map[string][]model.AuditLogEntry),
	}
}

// InTx acquires the scope's locks, runs fn, and publishes fn's writes only if
// fn returns nil and the context is still live. A failed or panicking fn
// leaves the store untouched.
func (s *MemoryStore) InTx(ctx context.Context, scope Scope, fn func(Tx) error) (err error) {
	if scope.SessionID == "" {
		return errors.New("transaction scope requires a session id")
	}
	unlock, err := s.locks.acquire(ctx, scope.keys()...)
	if err != nil {
		return fmt.Errorf("%w: acquire lock: %w", model.ErrTimeout, err)
	}
	defer unlock()

	s.mu.RLock()
	_, ok := s.sessions[scope.SessionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s: %w", scope.SessionID, model.ErrNotFound)
	}

	tx := newMemTx(s, scope.SessionID)
	if err = fn(tx); err != nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: before commit: %w", model.ErrTimeout, ctxErr)
	}
	tx.commit()
	return nil
}

// CreateSession stores a new session.
func (s *MemoryStore) CreateSession(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists: %w", sess.ID, model.ErrInvalidState)
	}
	cp := sess
	s.sessions[sess.ID] = &cp
	return nil
}

// GetSession returns a session or ErrNotFound.
func (s *MemoryStore) GetSession(_ context.Context, id string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	return *sess, nil
}

// ListSessions returns all sessions ordered by start time.
func (s *MemoryStore) ListSessions(_ context.Context) ([]model.Session, error) {
	s.mu.RLock()
	out := make([]model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetBooking returns a booking or ErrNotFound.
func (s *MemoryStore) GetBooking(_ context.Context, id string) (model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return model.Booking{}, fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	return *b, nil
}

// ListUserBookings returns a user's bookings, newest request first.
func (s *MemoryStore) ListUserBookings(_ context.Context, userID string) ([]model.Booking, error) {
	s.mu.RLock()
	out := s.collectLocked(s.byUser[userID])
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out, nil
}

// ListSessionBookings returns a session's bookings in request order.
func (s *MemoryStore) ListSessionBookings(_ context.Context, sessionID string) ([]model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.bySession[sessionID]), nil
}

// ListWaitlist returns a session's waitlist entries in storage order.
func (s *MemoryStore) ListWaitlist(_ context.Context, sessionID string) ([]model.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waitlistLocked(sessionID), nil
}

// ListAuditLog returns a session's audit entries in sequence order.
func (s *MemoryStore) ListAuditLog(_ context.Context, sessionID string) ([]model.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.audit[sessionID]
	out := make([]model.AuditLogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) collectLocked(ids []string) []model.Booking {
	out := make([]model.Booking, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.bookings[id])
	}
	return out
}

func (s *MemoryStore) waitlistLocked(sessionID string) []model.WaitlistEntry {
	q := s.waitlist[sessionID]
	out := make([]model.WaitlistEntry, 0, len(q))
	for _, e := range q {
		out = append(out, e)
	}
	return out
}

// memTx stages every write in private copies and publishes them in commit.
// Other transactions, including ActiveBookings reads of other sessions, only
// ever see committed state.
type memTx struct {
	s         *MemoryStore
	sessionID string

	session  *model.Session
	bookings map[string]model.Booking
	inserted []string
	queue    map[string]model.WaitlistEntry
	audit    []model.AuditLogEntry
}

func newMemTx(s *MemoryStore, sessionID string) *memTx {
	return &memTx{s: s, sessionID: sessionID, bookings: make(map[string]model.Booking)}
}

// commit publishes the staged writes in one step under the store mutex.
func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.session != nil {
		*t.s.sessions[t.sessionID] = *t.session
	}
	for _, id := range t.inserted {
		b := t.bookings[id]
		t.s.byUser[b.UserID] = append(t.s.byUser[b.UserID], id)
		t.s.bySession[b.SessionID] = append(t.s.bySession[b.SessionID], id)
	}
	for id, b := range t.bookings {
		if cur, ok := t.s.bookings[id]; ok {
			*cur = b
			continue
		}
		cp := b
		t.s.bookings[id] = &cp
	}
	if t.queue != nil {
		t.s.waitlist[t.sessionID] = t.queue
	}
	if len(t.audit) > 0 {
		t.s.audit[t.sessionID] = append(t.s.audit[t.sessionID], t.audit...)
	}
}

func (t *memTx) sessionLocked() model.Session {
	if t.session != nil {
		return *t.session
	}
	return *t.s.sessions[t.sessionID]
}

func (t *memTx) bookingLocked(id string) (model.Booking, bool) {
	if b, ok := t.bookings[id]; ok {
		return b, true
	}
	if b, ok := t.s.bookings[id]; ok {
		return *b, true
	}
	return model.Booking{}, false
}

func (t *memTx) queueLocked() map[string]model.WaitlistEntry {
	if t.queue != nil {
		return t.queue
	}
	return t.s.waitlist[t.sessionID]
}

// stageSession returns the private copy of the scoped session.
func (t *memTx) stageSession() *model.Session {
	if t.session == nil {
		t.s.mu.RLock()
		cp := *t.s.sessions[t.sessionID]
		t.s.mu.RUnlock()
		t.session = &cp
	}
	return t.session
}

// stageQueue returns the private copy of the scoped session's waitlist.
func (t *memTx) stageQueue() map[string]model.WaitlistEntry {
	if t.queue == nil {
		t.s.mu.RLock()
		committed := t.s.waitlist[t.sessionID]
		q := make(map[string]model.WaitlistEntry, len(committed))
		for k, v := range committed {
			q[k] = v
		}
		t.s.mu.RUnlock()
		t.queue = q
	}
	return t.queue
}

func (t *memTx) Session(context.Context) (model.Session, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.sessionLocked(), nil
}

func (t *memTx) SetSessionStatus(_ context.Context, status model.SessionStatus) error {
	t.stageSession().Status = status
	return nil
}

func (t *memTx) Reserve(context.Context) (model.ReserveOutcome, error) {
	sess := t.stageSession()
	if sess.ConfirmedCount > sess.Capacity {
		return "", model.NewInvariantError("confirmed_count", "session %s holds %d of %d seats", sess.ID, sess.ConfirmedCount, sess.Capacity)
	}
	if sess.ConfirmedCount == sess.Capacity {
		return model.ReserveExhausted, nil
	}
	sess.ConfirmedCount++
	return model.ReserveGranted, nil
}

func (t *memTx) Release(context.Context) error {
	sess := t.stageSession()
	if sess.ConfirmedCount <= 0 {
		return model.NewInvariantError("confirmed_count", "release on session %s with no confirmed seats", sess.ID)
	}
	sess.ConfirmedCount--
	return nil
}

func (t *memTx) SetConfirmedCount(_ context.Context, n int) error {
	sess := t.stageSession()
	if n < 0 || n > sess.Capacity {
		return model.NewInvariantError("confirmed_count", "cannot set %d on session %s with capacity %d", n, sess.ID, sess.Capacity)
	}
	sess.ConfirmedCount = n
	return nil
}

// ActiveBookings counts only bookings on SCHEDULED sessions; a completed or
// cancelled class no longer holds a place against the user's limit.
func (t *memTx) ActiveBookings(_ context.Context, userID string) ([]model.HeldBooking, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	ids := t.s.byUser[userID]
	for _, id := range t.inserted {
		if t.bookings[id].UserID == userID {
			ids = append(ids[:len(ids):len(ids)], id)
		}
	}

	var out []model.HeldBooking
	for _, id := range ids {
		b, _ := t.bookingLocked(id)
		if !b.Status.Active() {
			continue
		}
		sess := *t.s.sessions[b.SessionID]
		if b.SessionID == t.sessionID {
			sess = t.sessionLocked()
		}
		if sess.Status != model.SessionScheduled {
			continue
		}
		out = append(out, model.HeldBooking{
			BookingID: b.ID,
			SessionID: b.SessionID,
			Status:    b.Status,
			StartTime: sess.StartTime,
			EndTime:   sess.EndTime,
		})
	}
	return out, nil
}

func (t *memTx) Booking(_ context.Context, id string) (model.Booking, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	b, ok := t.bookingLocked(id)
	if !ok || b.SessionID != t.sessionID {
		return model.Booking{}, fmt.Errorf("booking %s in session %s: %w", id, t.sessionID, model.ErrNotFound)
	}
	return b, nil
}

func (t *memTx) SessionBookings(context.Context) ([]model.Booking, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	committed := t.s.bySession[t.sessionID]
	out := make([]model.Booking, 0, len(committed)+len(t.inserted))
	for _, id := range committed {
		b, _ := t.bookingLocked(id)
		out = append(out, b)
	}
	for _, id := range t.inserted {
		out = append(out, t.bookings[id])
	}
	return out, nil
}

func (t *memTx) InsertBooking(_ context.Context, b model.Booking) error {
	if b.SessionID != t.sessionID {
		return model.NewInvariantError("tx_scope", "booking %s targets session %s outside transaction scope %s", b.ID, b.SessionID, t.sessionID)
	}
	t.s.mu.RLock()
	_, exists := t.bookingLocked(b.ID)
	t.s.mu.RUnlock()
	if exists {
		return model.NewInvariantError("booking_id", "booking %s already exists", b.ID)
	}
	b.WaitlistPosition = 0
	t.bookings[b.ID] = b
	t.inserted = append(t.inserted, b.ID)
	return nil
}

func (t *memTx) TransitionBooking(_ context.Context, id string, from, to model.BookingStatus, reason model.Reason, at time.Time) error {
	if !model.CanTransition(from, to) {
		return model.NewInvariantError("booking_transition", "%s -> %s is not allowed for booking %s", from, to, id)
	}
	t.s.mu.RLock()
	b, ok := t.bookingLocked(id)
	t.s.mu.RUnlock()
	if !ok || b.SessionID != t.sessionID {
		return fmt.Errorf("booking %s in session %s: %w", id, t.sessionID, model.ErrNotFound)
	}
	if b.Status != from {
		return model.NewInvariantError("booking_transition", "booking %s is %s, expected %s", id, b.Status, from)
	}
	b.Status = to
	b.Reason = reason
	b.UpdatedAt = at
	t.bookings[id] = b
	return nil
}

func (t *memTx) WaitlistEntries(context.Context) ([]model.WaitlistEntry, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	q := t.queueLocked()
	out := make([]model.WaitlistEntry, 0, len(q))
	for _, e := range q {
		out = append(out, e)
	}
	return out, nil
}

func (t *memTx) AddWaitlistEntry(_ context.Context, e model.WaitlistEntry) error {
	if e.SessionID != t.sessionID {
		return model.NewInvariantError("tx_scope", "waitlist entry for %s outside transaction scope %s", e.SessionID, t.sessionID)
	}
	q := t.stageQueue()
	if _, ok := q[e.BookingID]; ok {
		return model.NewInvariantError("waitlist_entry", "booking %s is already queued", e.BookingID)
	}
	q[e.BookingID] = e
	return nil
}

func (t *memTx) RemoveWaitlistEntry(_ context.Context, bookingID string) error {
	q := t.stageQueue()
	if _, ok := q[bookingID]; !ok {
		return model.NewInvariantError("waitlist_entry", "booking %s is not queued in session %s", bookingID, t.sessionID)
	}
	delete(q, bookingID)
	return nil
}

// AppendAudit numbers the entry after the committed log and this
// transaction's earlier entries. The session lock keeps the count stable.
func (t *memTx) AppendAudit(_ context.Context, e model.AuditLogEntry) (model.AuditLogEntry, error) {
	if e.SessionID != t.sessionID {
		return model.AuditLogEntry{}, model.NewInvariantError("tx_scope", "audit entry for %s outside transaction scope %s", e.SessionID, t.sessionID)
	}
	t.s.mu.RLock()
	committed := len(t.s.audit[t.sessionID])
	t.s.mu.RUnlock()
	e.Seq = int64(committed+len(t.audit)) + 1
	t.audit = append(t.audit, e)
	return e, nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
