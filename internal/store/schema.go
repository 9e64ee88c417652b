package store

// SchemaVersion identifies the DDL revision this package expects.
const SchemaVersion = 1

// CoreSchema creates every table, constraint, and index the store package
// depends on. It is idempotent (CREATE TABLE/INDEX IF NOT EXISTS) so
// InitSchema can be called on every startup. Table order matters: file_sources
// precedes nodes because nodes.source_id references it.
const CoreSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS file_sources (
	id BIGSERIAL PRIMARY KEY,
	file_path TEXT NOT NULL,
	file_hash TEXT NOT NULL,
	mtime TIMESTAMPTZ,
	file_size BIGINT,
	frontmatter JSONB NOT NULL DEFAULT '{}'::jsonb,
	last_synced_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_file_sources_path ON file_sources (file_path);

CREATE TABLE IF NOT EXISTS nodes (
	id BIGSERIAL PRIMARY KEY,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	embedding vector(2000),
	embedding_dimension INTEGER,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	source_id BIGINT REFERENCES file_sources(id),
	chunk_position INTEGER,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_accessed TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_content_hash ON nodes (content_hash);
CREATE INDEX IF NOT EXISTS idx_nodes_created_at ON nodes (created_at);
CREATE INDEX IF NOT EXISTS idx_nodes_deleted_at ON nodes (deleted_at);
CREATE INDEX IF NOT EXISTS idx_nodes_content_trgm ON nodes USING gin (content gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_nodes_content_fts ON nodes USING gin (to_tsvector('english', content));
CREATE INDEX IF NOT EXISTS idx_nodes_embedding_hnsw ON nodes USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64);

CREATE TABLE IF NOT EXISTS tags (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tags_name ON tags (name);

CREATE TABLE IF NOT EXISTS node_tags (
	id BIGSERIAL PRIMARY KEY,
	node_id BIGINT NOT NULL REFERENCES nodes(id),
	tag_id BIGINT NOT NULL REFERENCES tags(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_node_tags_unique ON node_tags (node_id, tag_id);

CREATE TABLE IF NOT EXISTS robots (
	id BIGSERIAL PRIMARY KEY,
	external_id UUID NOT NULL,
	name TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_robots_name ON robots (name);

CREATE TABLE IF NOT EXISTS robot_nodes (
	id BIGSERIAL PRIMARY KEY,
	robot_id BIGINT NOT NULL REFERENCES robots(id),
	node_id BIGINT NOT NULL REFERENCES nodes(id),
	remember_count INTEGER NOT NULL DEFAULT 1,
	first_remembered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_remembered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	working_memory BOOLEAN NOT NULL DEFAULT false,
	deleted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_robot_nodes_unique ON robot_nodes (robot_id, node_id);

CREATE TABLE IF NOT EXISTS robot_groups (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	max_tokens INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_robot_groups_name ON robot_groups (name);

CREATE TABLE IF NOT EXISTS robot_group_members (
	id BIGSERIAL PRIMARY KEY,
	group_id BIGINT NOT NULL REFERENCES robot_groups(id),
	robot_id BIGINT NOT NULL REFERENCES robots(id),
	role TEXT NOT NULL, -- 'active' | 'passive'
	position INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_robot_group_members_unique ON robot_group_members (group_id, robot_id);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id BIGSERIAL PRIMARY KEY,
	node_id BIGINT NOT NULL REFERENCES nodes(id),
	kind TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending', -- pending | running | done | failed
	attempts INTEGER NOT NULL DEFAULT 0,
	run_after TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_pending ON enrichment_jobs (run_after) WHERE status = 'pending';
`
