package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string, used to identify recorded lifecycle
// operations and to correlate poller log lines.
func NewID() string {
	return ulid.Make().String()
}
