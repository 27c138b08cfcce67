package domain

import (
	"strings"
	"time"
)

// PartitionKey is the fixed partition every link record is stored under
const PartitionKey = "links"

// LinkRecord is the durable state for one short code
type LinkRecord struct {
	Code         string     `json:"code"`
	TargetURL    string     `json:"target_url"` // Empty means the code is registered but unresolved
	VisitCount   int64      `json:"visit_count"`
	LastVisitUTC *time.Time `json:"last_visit_utc,omitempty"`
	Version      int64      `json:"version"` // Bumped by the store on every write
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Resolvable reports whether the record can be used to redirect
func (l *LinkRecord) Resolvable() bool {
	return l != nil && l.TargetURL != ""
}

// Placeholder returns a record with no target, used when visits arrive for a code the store has never seen
func Placeholder(code string) *LinkRecord {
	return &LinkRecord{Code: code}
}

// reservedCodes are single-segment paths served by the router itself
var reservedCodes = map[string]bool{
	"healthz": true,
}

// IsReservedCode reports whether code collides with a built-in route
func IsReservedCode(code string) bool {
	return reservedCodes[strings.ToLower(code)]
}
