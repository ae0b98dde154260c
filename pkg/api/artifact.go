package api

import "time"

type (
	// ArtifactID uniquely identifies a stored data artifact
	ArtifactID string

	// DataArtifact describes a stored byte blob. The engine treats it as
	// opaque beyond its storage key.
	DataArtifact struct {
		ID          ArtifactID        `json:"id"`
		Filename    string            `json:"filename"`
		Key         string            `json:"key"`
		SizeBytes   int64             `json:"size_bytes"`
		ContentType string            `json:"content_type,omitempty"`
		Metadata    map[string]string `json:"metadata,omitempty"`
		CreatedAt   time.Time         `json:"created_at"`
	}
)
