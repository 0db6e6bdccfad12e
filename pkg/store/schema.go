package store

// Schema defines the SQLite schema for image metadata.
// Rows are returned in insertion order (rowid) for a given identity tuple.
const Schema = `
CREATE TABLE IF NOT EXISTS images (
    organization TEXT NOT NULL,
    username TEXT NOT NULL,
    mission TEXT NOT NULL,
    id TEXT NOT NULL,
    filepath TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_images_identity ON images(organization, username, mission);
CREATE UNIQUE INDEX IF NOT EXISTS idx_images_id ON images(id);
`

const (
	insertQuery = `
		INSERT INTO images (organization, username, mission, id, filepath)
		VALUES (?, ?, ?, ?, ?)
	`
	selectQuery = `
		SELECT filepath FROM images
		WHERE organization = ? AND username = ? AND mission = ?
		ORDER BY rowid
	`
	updateQuery = `
		UPDATE images SET filepath = ?
		WHERE organization = ? AND username = ? AND mission = ? AND id = ?
	`
	deleteQuery = `
		DELETE FROM images
		WHERE organization = ? AND username = ? AND mission = ? AND id = ?
	`
)
