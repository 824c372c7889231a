package domain

import "time"

// ProjectFile is the record for one piece of project evidence. Bytes live
// in external object storage; this core only tracks identity and the
// storage path used to mint signed URLs.
type ProjectFile struct {
	ID          string
	ProjectID   string
	Name        string
	MimeType    string
	StoragePath string
	Description string

	// ParentFileID links a derived file (an extracted video frame) back
	// to its source video.
	ParentFileID string

	CreatedAt time.Time
}

// JobInputFile is the file descriptor shape passed into external compute
// job payloads and received back in video-analysis results.
type JobInputFile struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}
