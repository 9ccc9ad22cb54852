package migrations

// initialSchema creates the federation work-queue tables. Statements are
// idempotent so the schema can be applied on every startup.
const initialSchema = `
CREATE TABLE IF NOT EXISTS outbox_activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    activity_id TEXT NOT NULL UNIQUE,
    local_user_id TEXT NOT NULL,
    activity_type TEXT NOT NULL,
    activity_payload TEXT NOT NULL,
    object_id TEXT,
    object_type TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_outbox_local_user ON outbox_activities(local_user_id);

CREATE TABLE IF NOT EXISTS delivery_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    activity_id TEXT NOT NULL,
    target_inbox_url TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    last_attempt_at DATETIME,
    delivered_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(activity_id, target_inbox_url)
);

CREATE INDEX IF NOT EXISTS idx_delivery_queue_status_created ON delivery_queue(status, created_at);

CREATE TABLE IF NOT EXISTS inbox_activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    local_user_id TEXT NOT NULL,
    remote_actor_id TEXT NOT NULL,
    activity_id TEXT NOT NULL UNIQUE,
    activity_type TEXT NOT NULL,
    activity_payload TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT,
    processed_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_inbox_status_created ON inbox_activities(status, created_at);

CREATE TABLE IF NOT EXISTS followers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    local_user_id TEXT NOT NULL,
    remote_actor_id TEXT NOT NULL,
    activity_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    accepted_at DATETIME,
    UNIQUE(local_user_id, remote_actor_id)
);

CREATE INDEX IF NOT EXISTS idx_followers_status ON followers(local_user_id, status);

CREATE TABLE IF NOT EXISTS following (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    local_user_id TEXT NOT NULL,
    remote_actor_id TEXT NOT NULL,
    activity_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    accepted_at DATETIME,
    UNIQUE(local_user_id, remote_actor_id)
);

CREATE INDEX IF NOT EXISTS idx_following_status ON following(local_user_id, status);

CREATE TABLE IF NOT EXISTS rate_limit_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL,
    window_start DATETIME NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_rate_limit_key_created ON rate_limit_entries(key, created_at);

CREATE TABLE IF NOT EXISTS remote_actors (
    id TEXT PRIMARY KEY,
    handle TEXT,
    display_name TEXT,
    domain TEXT,
    inbox_url TEXT NOT NULL,
    outbox_url TEXT,
    followers_url TEXT,
    following_url TEXT,
    public_key_pem TEXT,
    last_fetched_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_remote_actors_domain ON remote_actors(domain);
`

// GetInitialSchema returns the initial database schema
func GetInitialSchema() string {
	return initialSchema
}
