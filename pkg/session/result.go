package session

import "strings"

// Result is the outcome of a completed session.
type Result struct {
	TransactionID string
	// CallID is the first non-empty call id announced by the remote side.
	CallID string
	// Segments holds the text of every complete event, in arrival order.
	Segments []string
	// EOS is false when the session ended before the remote side signalled
	// end of stream, so the transcript may be truncated.
	EOS bool
}

// Text joins the segments the way the transcript is printed.
func (r Result) Text() string {
	return strings.Join(r.Segments, ", ")
}
