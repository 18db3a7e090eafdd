package database

// schema is idempotent. The partial unique index backs the one-active-booking
// per (user, session) rule; the CHECK on confirmed_count backs no-overbooking
// even if application code goes wrong.
const schema = `
CREATE TABLE IF NOT EXISTS class_sessions (
	id              TEXT PRIMARY KEY,
	class_id        TEXT NOT NULL,
	institution_id  TEXT NOT NULL DEFAULT '',
	start_time      TIMESTAMPTZ NOT NULL,
	end_time        TIMESTAMPTZ NOT NULL,
	capacity        INTEGER NOT NULL CHECK (capacity > 0),
	confirmed_count INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (end_time > start_time),
	CHECK (confirmed_count >= 0 AND confirmed_count <= capacity)
);

CREATE TABLE IF NOT EXISTS bookings (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	session_id   TEXT NOT NULL REFERENCES class_sessions(id),
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	requested_at TIMESTAMPTZ NOT NULL,
	decided_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS bookings_one_active_per_user_session
	ON bookings (user_id, session_id)
	WHERE status IN ('CONFIRMED', 'WAITLISTED');

CREATE INDEX IF NOT EXISTS bookings_user_idx ON bookings (user_id);
CREATE INDEX IF NOT EXISTS bookings_session_idx ON bookings (session_id);

CREATE TABLE IF NOT EXISTS waitlist_entries (
	booking_id  TEXT PRIMARY KEY REFERENCES bookings(id),
	session_id  TEXT NOT NULL REFERENCES class_sessions(id),
	user_id     TEXT NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS waitlist_order_idx
	ON waitlist_entries (session_id, enqueued_at, booking_id);

CREATE TABLE IF NOT EXISTS audit_log (
	session_id   TEXT NOT NULL REFERENCES class_sessions(id),
	seq          BIGINT NOT NULL,
	booking_id   TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	prior_status TEXT NOT NULL,
	new_status   TEXT NOT NULL,
	reason       TEXT NOT NULL,
	actor        TEXT NOT NULL DEFAULT '',
	ts           TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`
