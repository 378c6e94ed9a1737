package store

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'staff_warehouse',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS print_jobs (
    id          BIGSERIAL PRIMARY KEY,
    job_id      TEXT NOT NULL UNIQUE,
    scope       TEXT NOT NULL,
    codes       TEXT NOT NULL DEFAULT '',
    label_count INTEGER NOT NULL DEFAULT 0,
    printed_by  TEXT NOT NULL DEFAULT 'system',
    error       TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_print_jobs_created ON print_jobs(created_at);

CREATE TABLE IF NOT EXISTS outbox (
    id          BIGSERIAL PRIMARY KEY,
    msg_id      TEXT NOT NULL UNIQUE,
    destination TEXT NOT NULL,
    payload     BYTEA NOT NULL,
    created_by  TEXT NOT NULL DEFAULT 'system',
    retries     INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    sent_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at) WHERE sent_at IS NULL;
`
