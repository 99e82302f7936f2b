package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job encapsulates one request to download, process and archive a dccon
// package on behalf of a session. Jobs live in memory only; the queue service
// owns every mutation after creation.
type Job struct {
	ID        string
	SessionID string
	URL       string
	PackageID string

	// Resize is the requested square edge length in pixels; 0 keeps the
	// source size.
	Resize int

	Status   JobStatus
	Progress float64
	Stage    string
	Message  string
	Error    string

	PackageTitle string
	PackageInfo  *PackageInfo
	Items        []Item
	Previews     []string
	Zip          *ZipArchive

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// PackageInfo carries the metadata block returned by the package detail
// endpoint.
type PackageInfo struct {
	PackageIdx  string `json:"packageIdx,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	MainImage   string `json:"mainImage,omitempty"`
}

// Item is one downloaded (and possibly resized) emoticon image.
type Item struct {
	Data    []byte
	Ext     string
	MIME    string
	Size    int
	Resized bool
	Title   string
	Sort    int
}

// ZipArchive is the bundled package payload, present only on completed jobs.
type ZipArchive struct {
	Data     []byte
	Filename string
	Size     int
}
