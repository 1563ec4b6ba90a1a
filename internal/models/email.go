package models

import "time"

// EmailCandidate is one email considered for processing in a cycle.
type EmailCandidate struct {
	MessageID  string
	SeqNum     uint32
	Subject    string
	ReceivedAt time.Time
	Body       string
}

// ActionKind distinguishes how a download action is expressed in an email.
type ActionKind string

const (
	ActionURL    ActionKind = "URL"
	ActionButton ActionKind = "BUTTON_REF"
)

// DownloadAction is the actionable download reference extracted from one
// email body. Ephemeral, consumed immediately by the download agent.
type DownloadAction struct {
	Kind   ActionKind
	Target string
}

// ArchiveFormat identifies the container type of a downloaded file, decided
// by content signature rather than extension.
type ArchiveFormat string

const (
	FormatZip     ArchiveFormat = "ZIP"
	FormatRar     ArchiveFormat = "RAR"
	Format7z      ArchiveFormat = "7Z"
	FormatUnknown ArchiveFormat = "UNKNOWN"
)

// DownloadedArchive is one file retrieved by the download agent. It lives in
// the cycle's scratch directory and is removed after extraction.
type DownloadedArchive struct {
	LocalPath       string
	SourceMessageID string
	Format          ArchiveFormat
}
