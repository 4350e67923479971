// storage/manifest.go
package storage

import "time"

// Record is one row of the capture index. Unsigned IDs are stored as
// BIGINT; SQL drivers only take signed 64-bit integers.
type Record struct {
	SessionID      string  `json:"session_id" db:"session_id"`
	SequenceID     int64   `json:"sequence_id" db:"sequence_id"`
	TimestampNanos int64   `json:"timestamp_nanos" db:"timestamp_nanos"`
	Name           string  `json:"name" db:"name"`
	ImagePath      string  `json:"image_path" db:"image_path"`
	MetadataPath   string  `json:"metadata_path" db:"metadata_path"`
	Width          int     `json:"width" db:"width"`
	Height         int     `json:"height" db:"height"`
	Format         string  `json:"format" db:"format"`
	ImageBytes     int64   `json:"image_bytes" db:"image_bytes"`
	Speed          float64 `json:"speed" db:"speed"`
	// PersistedAtNanos is Unix nanoseconds; stored as an integer so both
	// drivers agree on the column type.
	PersistedAtNanos int64 `json:"persisted_at_nanos" db:"persisted_at"`
}

// RecordFromArtifact maps an artifact to its index row.
func RecordFromArtifact(a Artifact) Record {
	return Record{
		SessionID:        a.SessionID,
		SequenceID:       int64(a.SequenceID),
		TimestampNanos:   int64(a.TimestampNanos),
		Name:             a.Name,
		ImagePath:        a.ImagePath,
		MetadataPath:     a.MetadataPath,
		Width:            a.Width,
		Height:           a.Height,
		Format:           a.Format,
		ImageBytes:       a.ImageBytes,
		Speed:            a.Speed,
		PersistedAtNanos: a.PersistedAt.UnixNano(),
	}
}

// PersistedAt returns the persist time.
func (r Record) PersistedAt() time.Time {
	return time.Unix(0, r.PersistedAtNanos)
}

// Artifact converts the row back.
func (r Record) Artifact() Artifact {
	return Artifact{
		SessionID:      r.SessionID,
		SequenceID:     uint64(r.SequenceID),
		TimestampNanos: uint64(r.TimestampNanos),
		Name:           r.Name,
		ImagePath:      r.ImagePath,
		MetadataPath:   r.MetadataPath,
		Width:          r.Width,
		Height:         r.Height,
		Format:         r.Format,
		ImageBytes:     r.ImageBytes,
		Speed:          r.Speed,
		PersistedAt:    r.PersistedAt(),
	}
}
