package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
)

const sessionColumns = `id, class_id, institution_id, start_time, end_time, capacity, confirmed_count, status, created_at`

const bookingColumns = `id, user_id, session_id, status, reason, requested_at, decided_at, updated_at`

// PostgresStore implements Store on PostgreSQL using pgx directly.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// InTx runs fn inside one database transaction.
//
// Locking:
//
//	pg_advisory_xact_lock on the user key serialises a user's requests across
//	sessions, so two overlapping sessions cannot both be confirmed by racing
//	requests. SELECT ... FOR UPDATE on the session row then serialises every
//	reservation, release, waitlist change and audit append of that session.
//	Both locks are released by COMMIT or ROLLBACK, and other sessions are
//	never blocked.
//
// The booking row, waitlist change, counter change and audit entry are all
// written in the same transaction, so a crash between them leaves nothing
// behind.
func (s *PostgresStore) InTx(ctx context.Context, scope Scope, fn func(Tx) error) (err error) {
	if scope.SessionID == "" {
		return errors.New("transaction scope requires a session id")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrapPgErr(ctx, "begin transaction", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.Background())
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	if scope.UserID != "" {
		if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "user:"+scope.UserID); err != nil {
			return wrapPgErr(ctx, "lock user", err)
		}
	}

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM class_sessions WHERE id = $1 FOR UPDATE`, scope.SessionID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = fmt.Errorf("session %s: %w", scope.SessionID, model.ErrNotFound)
			return err
		}
		return wrapPgErr(ctx, "lock session row", err)
	}

	if err = fn(&pgTx{tx: tx, sessionID: scope.SessionID}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return wrapPgErr(ctx, "commit transaction", err)
	}
	return nil
}

// CreateSession inserts a session row.
func (s *PostgresStore) CreateSession(ctx context.Context, sess model.Session) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO class_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.ClassID, sess.InstitutionID, sess.StartTime, sess.EndTime,
		sess.Capacity, sess.ConfirmedCount, string(sess.Status), sess.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("session %s already exists: %w", sess.ID, model.ErrInvalidState)
		}
		return wrapPgErr(ctx, "insert session", err)
	}
	return nil
}

// GetSession returns a single session or ErrNotFound.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (model.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM class_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
		}
		return model.Session{}, wrapPgErr(ctx, "get session", err)
	}
	return sess, nil
}

// ListSessions returns all sessions ordered by start time.
func (s *PostgresStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.Query(ctx, `SELECT `+sessionColumns+` FROM class_sessions ORDER BY start_time ASC, id ASC`)
	if err != nil {
		return nil, wrapPgErr(ctx, "list sessions", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrapPgErr(ctx, "scan session", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetBooking returns a single booking or ErrNotFound.
func (s *PostgresStore) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanBooking(s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Booking{}, fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
		}
		return model.Booking{}, wrapPgErr(ctx, "get booking", err)
	}
	return b, nil
}

// ListUserBookings returns a user's bookings, newest request first.
func (s *PostgresStore) ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	return queryBookings(ctx, s.db,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = $1 ORDER BY requested_at DESC, id ASC`, userID)
}

// ListSessionBookings returns a session's bookings in request order.
func (s *PostgresStore) ListSessionBookings(ctx context.Context, sessionID string) ([]model.Booking, error) {
	return queryBookings(ctx, s.db,
		`SELECT `+bookingColumns+` FROM bookings WHERE session_id = $1 ORDER BY requested_at ASC, id ASC`, sessionID)
}

// ListWaitlist returns a session's waitlist entries.
func (s *PostgresStore) ListWaitlist(ctx context.Context, sessionID string) ([]model.WaitlistEntry, error) {
	return queryWaitlist(ctx, s.db, sessionID)
}

// ListAuditLog returns a session's audit entries in sequence order.
func (s *PostgresStore) ListAuditLog(ctx context.Context, sessionID string) ([]model.AuditLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT session_id, seq, booking_id, user_id, prior_status, new_status, reason, actor, ts
		 FROM audit_log
		 WHERE session_id = $1
		 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, wrapPgErr(ctx, "list audit log", err)
	}
	defer rows.Close()

	var out []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		var prior, next, reason string
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.BookingID, &e.UserID, &prior, &next, &reason, &e.Actor, &e.Timestamp); err != nil {
			return nil, wrapPgErr(ctx, "scan audit entry", err)
		}
		e.PriorStatus = model.BookingStatus(prior)
		e.NewStatus = model.BookingStatus(next)
		e.Reason = model.Reason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// pgTx is a Tx bound to one pgx transaction and one locked session row.
type pgTx struct {
	tx        pgx.Tx
	sessionID string
}

func (t *pgTx) Session(ctx context.Context) (model.Session, error) {
	sess, err := scanSession(t.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM class_sessions WHERE id = $1`, t.sessionID))
	if err != nil {
		return model.Session{}, wrapPgErr(ctx, "read session", err)
	}
	return sess, nil
}

func (t *pgTx) SetSessionStatus(ctx context.Context, status model.SessionStatus) error {
	if _, err := t.tx.Exec(ctx, `UPDATE class_sessions SET status = $2 WHERE id = $1`, t.sessionID, string(status)); err != nil {
		return wrapPgErr(ctx, "set session status", err)
	}
	return nil
}

// Reserve increments confirmed_count only while it is below capacity. The
// guard lives in the WHERE clause so the check and the write are one statement.
func (t *pgTx) Reserve(ctx context.Context) (model.ReserveOutcome, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE class_sessions SET confirmed_count = confirmed_count + 1
		 WHERE id = $1 AND confirmed_count < capacity`,
		t.sessionID,
	)
	if err != nil {
		return "", wrapPgErr(ctx, "reserve seat", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ReserveExhausted, nil
	}
	return model.ReserveGranted, nil
}

func (t *pgTx) Release(ctx context.Context) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE class_sessions SET confirmed_count = confirmed_count - 1
		 WHERE id = $1 AND confirmed_count > 0`,
		t.sessionID,
	)
	if err != nil {
		return wrapPgErr(ctx, "release seat", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewInvariantError("confirmed_count", "release on session %s with no confirmed seats", t.sessionID)
	}
	return nil
}

func (t *pgTx) SetConfirmedCount(ctx context.Context, n int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE class_sessions SET confirmed_count = $2
		 WHERE id = $1 AND $2 >= 0 AND $2 <= capacity`,
		t.sessionID, n,
	)
	if err != nil {
		return wrapPgErr(ctx, "set confirmed count", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewInvariantError("confirmed_count", "cannot set %d on session %s", n, t.sessionID)
	}
	return nil
}

func (t *pgTx) ActiveBookings(ctx context.Context, userID string) ([]model.HeldBooking, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT b.id, b.session_id, b.status, s.start_time, s.end_time
		 FROM bookings b
		 JOIN class_sessions s ON s.id = b.session_id
		 WHERE b.user_id = $1
		   AND b.status IN ('CONFIRMED', 'WAITLISTED')
		   AND s.status = 'SCHEDULED'`,
		userID,
	)
	if err != nil {
		return nil, wrapPgErr(ctx, "list active bookings", err)
	}
	defer rows.Close()

	var out []model.HeldBooking
	for rows.Next() {
		var h model.HeldBooking
		var status string
		if err := rows.Scan(&h.BookingID, &h.SessionID, &status, &h.StartTime, &h.EndTime); err != nil {
			return nil, wrapPgErr(ctx, "scan active booking", err)
		}
		h.Status = model.BookingStatus(status)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *pgTx) Booking(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND session_id = $2`, id, t.sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Booking{}, fmt.Errorf("booking %s in session %s: %w", id, t.sessionID, model.ErrNotFound)
		}
		return model.Booking{}, wrapPgErr(ctx, "read booking", err)
	}
	return b, nil
}

func (t *pgTx) SessionBookings(ctx context.Context) ([]model.Booking, error) {
	return queryBookings(ctx, t.tx,
		`SELECT `+bookingColumns+` FROM bookings WHERE session_id = $1 ORDER BY requested_at ASC, id ASC`, t.sessionID)
}

func (t *pgTx) InsertBooking(ctx context.Context, b model.Booking) error {
	if b.SessionID != t.sessionID {
		return model.NewInvariantError("tx_scope", "booking %s targets session %s outside transaction scope %s", b.ID, b.SessionID, t.sessionID)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.UserID, b.SessionID, string(b.Status), string(b.Reason), b.RequestedAt, b.DecidedAt, b.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.NewInvariantError("active_booking", "user %s already holds an active booking in session %s", b.UserID, b.SessionID)
		}
		return wrapPgErr(ctx, "insert booking", err)
	}
	return nil
}

func (t *pgTx) TransitionBooking(ctx context.Context, id string, from, to model.BookingStatus, reason model.Reason, at time.Time) error {
	if !model.CanTransition(from, to) {
		return model.NewInvariantError("booking_transition", "%s -> %s is not allowed for booking %s", from, to, id)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE bookings SET status = $4, reason = $5, updated_at = $6
		 WHERE id = $1 AND session_id = $2 AND status = $3`,
		id, t.sessionID, string(from), string(to), string(reason), at,
	)
	if err != nil {
		return wrapPgErr(ctx, "transition booking", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewInvariantError("booking_transition", "booking %s is not %s", id, from)
	}
	return nil
}

func (t *pgTx) WaitlistEntries(ctx context.Context) ([]model.WaitlistEntry, error) {
	return queryWaitlist(ctx, t.tx, t.sessionID)
}

func (t *pgTx) AddWaitlistEntry(ctx context.Context, e model.WaitlistEntry) error {
	if e.SessionID != t.sessionID {
		return model.NewInvariantError("tx_scope", "waitlist entry for %s outside transaction scope %s", e.SessionID, t.sessionID)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO waitlist_entries (booking_id, session_id, user_id, enqueued_at)
		 VALUES ($1, $2, $3, $4)`,
		e.BookingID, e.SessionID, e.UserID, e.EnqueuedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.NewInvariantError("waitlist_entry", "booking %s is already queued", e.BookingID)
		}
		return wrapPgErr(ctx, "enqueue waitlist entry", err)
	}
	return nil
}

func (t *pgTx) RemoveWaitlistEntry(ctx context.Context, bookingID string) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM waitlist_entries WHERE booking_id = $1 AND session_id = $2`,
		bookingID, t.sessionID,
	)
	if err != nil {
		return wrapPgErr(ctx, "remove waitlist entry", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewInvariantError("waitlist_entry", "booking %s is not queued in session %s", bookingID, t.sessionID)
	}
	return nil
}

// AppendAudit computes the next seq under the session row lock held by InTx,
// which keeps per-session sequence numbers gap-free.
func (t *pgTx) AppendAudit(ctx context.Context, e model.AuditLogEntry) (model.AuditLogEntry, error) {
	if e.SessionID != t.sessionID {
		return model.AuditLogEntry{}, model.NewInvariantError("tx_scope", "audit entry for %s outside transaction scope %s", e.SessionID, t.sessionID)
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO audit_log (session_id, seq, booking_id, user_id, prior_status, new_status, reason, actor, ts)
		 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6, $7, $8
		 FROM audit_log WHERE session_id = $1
		 RETURNING seq`,
		e.SessionID, e.BookingID, e.UserID, string(e.PriorStatus), string(e.NewStatus), string(e.Reason), e.Actor, e.Timestamp,
	).Scan(&e.Seq)
	if err != nil {
		return model.AuditLogEntry{}, wrapPgErr(ctx, "append audit entry", err)
	}
	return e, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryBookings(ctx context.Context, q querier, sql string, args ...any) ([]model.Booking, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapPgErr(ctx, "list bookings", err)
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, wrapPgErr(ctx, "scan booking", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func queryWaitlist(ctx context.Context, q querier, sessionID string) ([]model.WaitlistEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT session_id, booking_id, user_id, enqueued_at
		 FROM waitlist_entries
		 WHERE session_id = $1
		 ORDER BY enqueued_at ASC, booking_id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, wrapPgErr(ctx, "list waitlist", err)
	}
	defer rows.Close()

	var out []model.WaitlistEntry
	for rows.Next() {
		var e model.WaitlistEntry
		if err := rows.Scan(&e.SessionID, &e.BookingID, &e.UserID, &e.EnqueuedAt); err != nil {
			return nil, wrapPgErr(ctx, "scan waitlist entry", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (model.Session, error) {
	var s model.Session
	var status string
	err := row.Scan(&s.ID, &s.ClassID, &s.InstitutionID, &s.StartTime, &s.EndTime,
		&s.Capacity, &s.ConfirmedCount, &status, &s.CreatedAt)
	s.Status = model.SessionStatus(status)
	return s, err
}

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var status, reason string
	err := row.Scan(&b.ID, &b.UserID, &b.SessionID, &status, &reason, &b.RequestedAt, &b.DecidedAt, &b.UpdatedAt)
	b.Status = model.BookingStatus(status)
	b.Reason = model.Reason(reason)
	return b, err
}

// wrapPgErr maps context expiry to ErrTimeout and everything else to a
// StorageError the caller may retry.
func wrapPgErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", model.ErrTimeout, op, ctxErr)
	}
	return &model.StorageError{Op: op, Err: err}
}
