package postgres

// nameVector must match the expression used by the full-text name query so
// the GIN index is eligible.
const nameVector = `to_tsvector('simple', coalesce(name, ''))`

type entitySchema struct {
	entity     string
	statements []string
}

// schema is applied in order by EnsureIndexes. Every statement is idempotent.
var schema = []entitySchema{
	{
		entity: "page",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS pages (
	id             TEXT PRIMARY KEY,
	username       TEXT NOT NULL,
	url            TEXT NOT NULL,
	name           TEXT,
	profile_pic    TEXT,
	email          TEXT,
	website        TEXT,
	category       TEXT,
	follower_count BIGINT NOT NULL DEFAULT 0,
	likes_count    BIGINT NOT NULL DEFAULT 0,
	creation_date  TIMESTAMPTZ,
	about          TEXT,
	archive_uri    TEXT NOT NULL DEFAULT '',
	scraped_at     TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS pages_username_key ON pages (username)`,
			`CREATE INDEX IF NOT EXISTS pages_follower_count_idx ON pages (follower_count)`,
			`CREATE INDEX IF NOT EXISTS pages_category_idx ON pages (category)`,
			`CREATE INDEX IF NOT EXISTS pages_name_idx ON pages (name)`,
			`CREATE INDEX IF NOT EXISTS pages_name_fts_idx ON pages USING GIN (` + nameVector + `)`,
		},
	},
	{
		entity: "post",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS posts (
	id           TEXT PRIMARY KEY,
	page_id      TEXT NOT NULL,
	content      TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	likes_count  BIGINT NOT NULL DEFAULT 0,
	shares_count BIGINT NOT NULL DEFAULT 0,
	media_urls   TEXT[] NOT NULL DEFAULT '{}',
	comments     JSONB NOT NULL DEFAULT '[]'
)`,
			`CREATE INDEX IF NOT EXISTS posts_page_created_idx ON posts (page_id, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS posts_created_idx ON posts (created_at)`,
		},
	},
	{
		entity: "comment",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS comments (
	id         TEXT PRIMARY KEY,
	post_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	author     JSONB,
	created_at TIMESTAMPTZ NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS comments_post_created_idx ON comments (post_id, created_at DESC)`,
		},
	},
	{
		entity: "follower",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS followers (
	id          TEXT PRIMARY KEY,
	page_id     TEXT NOT NULL,
	follower_id TEXT NOT NULL,
	name        TEXT,
	profile_pic TEXT,
	profile_url TEXT,
	created_at  TIMESTAMPTZ NOT NULL
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS followers_page_follower_key ON followers (page_id, follower_id)`,
			`CREATE INDEX IF NOT EXISTS followers_page_created_idx ON followers (page_id, created_at DESC)`,
		},
	},
}
