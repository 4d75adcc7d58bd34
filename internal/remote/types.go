package remote

import (
	"errors"
	"fmt"
)

// Credentials is supplied by the authentication collaborator.
type Credentials interface {
	APIKey() string
	ModelName() string
}

type StaticCredentials struct {
	Key   string
	Model string
}

func (c StaticCredentials) APIKey() string    { return c.Key }
func (c StaticCredentials) ModelName() string { return c.Model }

const DefaultModel = "gpt-4o-2024-08-06"

// Error codes the job submission endpoint reports in {error: {err_code}}.
const (
	CodeTimeout      = -1024
	CodeUnauthorized = -10002
)

type SubmitRequest struct {
	ImageURL   string
	TargetLang string
	Locale     string
	Vertical   bool
	Horizontal bool
}

type submitBody struct {
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	ImgURL     string `json:"imgUrl"`
	TargetLang string `json:"targetLang"`
	Locale     string `json:"locale"`
	Vertical   bool   `json:"vertical"`
	Horizontal bool   `json:"horizontal"`
}

type RejectKind int

const (
	RejectUnclassified RejectKind = iota
	RejectTimeout
	RejectUnauthorized
)

func (k RejectKind) String() string {
	switch k {
	case RejectTimeout:
		return "Timeout"
	case RejectUnauthorized:
		return "Unauthorized"
	default:
		return "Unclassified"
	}
}

// SubmitError is a rejected job submission.
type SubmitError struct {
	Kind  RejectKind
	Code  int
	Raw   string
	Cause error
}

func (e *SubmitError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("submit rejected (%s): %v", e.Kind, e.Cause)
	case e.Code != 0:
		return fmt.Sprintf("submit rejected (%s): err_code %d", e.Kind, e.Code)
	case e.Raw != "":
		return fmt.Sprintf("submit rejected (%s): %s", e.Kind, e.Raw)
	default:
		return fmt.Sprintf("submit rejected (%s)", e.Kind)
	}
}

func (e *SubmitError) Unwrap() error {
	return e.Cause
}

func classifyCode(code int) RejectKind {
	switch code {
	case CodeTimeout:
		return RejectTimeout
	case CodeUnauthorized:
		return RejectUnauthorized
	default:
		return RejectUnclassified
	}
}

// ErrStreamInterrupted means the stream stopped before a terminal chunk.
var ErrStreamInterrupted = errors.New("stream interrupted before terminal chunk")

type OutcomeKind int

const (
	OutcomeFinished OutcomeKind = iota + 1
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFinished:
		return "finish"
	case OutcomeFailed:
		return "Error"
	default:
		return "none"
	}
}

// Outcome is a terminal result reported by the stream or by a poll.
type Outcome struct {
	Kind    OutcomeKind
	URL     string
	Message string
}

// PollResult is either InProgress (re-attach to the stream), a terminal
// Outcome, or neither when the service reported nothing authoritative yet.
type PollResult struct {
	InProgress bool
	Outcome    *Outcome
}

const (
	chunkInProgress = "in-progress"
	chunkFinish     = "finish"
	chunkError      = "Error"

	pollInProgress = "IN_PROGRESS"
)

type outputEvent struct {
	Status    string `json:"status"`
	Msg       string `json:"msg,omitempty"`
	UploadURL string `json:"upload_url,omitempty"`
}

// outcome returns the terminal outcome carried by ev, if any.
func (ev outputEvent) outcome() (Outcome, bool) {
	switch ev.Status {
	case chunkFinish:
		return Outcome{Kind: OutcomeFinished, URL: ev.UploadURL}, true
	case chunkError:
		return Outcome{Kind: OutcomeFailed, Message: ev.Msg}, true
	default:
		return Outcome{}, false
	}
}

type streamChunk struct {
	Output outputEvent `json:"output"`
}

type jobIDBody struct {
	ID string `json:"id"`
}
