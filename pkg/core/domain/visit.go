package domain

import "time"

// UnknownValue is used for any visit attribute that could not be determined
const UnknownValue = "unknown"

// UAClass is a coarse user-agent classification
type UAClass string

const (
	UABotLike   UAClass = "bot_like"
	UAHumanLike UAClass = "human_like"
)

// VisitEvent represents one successful redirect. Immutable once built.
type VisitEvent struct {
	Code         string
	TimestampUTC time.Time
	ClientIDHash string // Salted hash or UnknownValue
	Country      string // Upstream country hint or UnknownValue
	UAClass      UAClass
}

// FlushResult summarises one aggregator run
type FlushResult struct {
	Received  int           `json:"received"`
	Decoded   int           `json:"decoded"`
	Dropped   int           `json:"dropped"`
	Codes     int           `json:"codes"`
	Applied   int           `json:"applied"`
	Abandoned int           `json:"abandoned"`
	Duration  time.Duration `json:"duration"`
}
