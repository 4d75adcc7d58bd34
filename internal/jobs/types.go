package jobs

import (
	"io"
	"time"
)

type Status int

const (
	StatusUploadFailed      Status = -2
	StatusTranslationFailed Status = -1
	StatusTranslated        Status = 1
	StatusUploaded          Status = 2
	StatusQueued            Status = 3
	StatusUploading         Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusUploadFailed:
		return "upload_failed"
	case StatusTranslationFailed:
		return "translation_failed"
	case StatusTranslated:
		return "translated"
	case StatusUploaded:
		return "uploaded"
	case StatusQueued:
		return "queued"
	case StatusUploading:
		return "uploading"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no automatic transition leaves s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusTranslated, StatusTranslationFailed, StatusUploadFailed:
		return true
	default:
		return false
	}
}

const CreatedAtLayout = "2006-01-02 15:04:05"

// JobRecord is one user-submitted image.
type JobRecord struct {
	ID            int64  `json:"id"`
	SourceURL     string `json:"source_url"`
	TranslatedURL string `json:"translated_url,omitempty"`
	Status        Status `json:"status"`
	RemoteJobID   string `json:"remote_job_id,omitempty"`
	Message       string `json:"message,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	SourceURL     *string
	TranslatedURL *string
	Status        *Status
	RemoteJobID   *string
	Message       *string
}

// Apply merges p onto rec. ID and CreatedAt are never touched.
func (p Patch) Apply(rec JobRecord) JobRecord {
	if p.SourceURL != nil {
		rec.SourceURL = *p.SourceURL
	}
	if p.TranslatedURL != nil {
		rec.TranslatedURL = *p.TranslatedURL
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.RemoteJobID != nil {
		rec.RemoteJobID = *p.RemoteJobID
	}
	if p.Message != nil {
		rec.Message = *p.Message
	}
	return rec
}

func ptr[T any](v T) *T { return &v }

// Upload is a raw image handed to SubmitUpload.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type TextDirection string

const (
	DirectionAuto   TextDirection = "auto"
	DirectionRow    TextDirection = "row"
	DirectionColumn TextDirection = "column"
)

// Flags maps a direction onto the job service's horizontal/vertical switches.
func (d TextDirection) Flags() (horizontal, vertical bool) {
	switch d {
	case DirectionRow:
		return true, false
	case DirectionColumn:
		return false, true
	default:
		return false, false
	}
}

type TranslateOptions struct {
	TargetLang string
	Locale     string
	Direction  TextDirection
}

type clock func() time.Time
