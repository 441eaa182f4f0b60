package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS delivered (
	fingerprint  TEXT PRIMARY KEY,
	delivered    INTEGER NOT NULL DEFAULT 1 CHECK(delivered IN (0, 1)),
	delivered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TRIGGER IF NOT EXISTS delivered_monotonic
BEFORE UPDATE OF delivered ON delivered
WHEN NEW.delivered = 0
BEGIN
	SELECT RAISE(ABORT, 'delivered entries cannot be reset');
END;

CREATE TRIGGER IF NOT EXISTS delivered_no_delete
BEFORE DELETE ON delivered
BEGIN
	SELECT RAISE(ABORT, 'delivered entries cannot be deleted');
END;

CREATE INDEX IF NOT EXISTS idx_delivered_at ON delivered(delivered_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
