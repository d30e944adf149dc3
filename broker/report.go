package broker

import "time"

// Source identifies the delivery channel a report arrived through.
type Source string

const (
	SourceFileDrop Source = "file-drop"
	SourceMailbox  Source = "mailbox"
)

// RawReport is one report as surfaced by a delivery channel, before parsing.
// Identifier is the dedup key: a date+filename tag for file drops, the
// Message-ID header for mailbox reports. Immutable once produced.
type RawReport struct {
	Source     Source
	Identifier string
	Timestamp  time.Time
	Body       string
}
