package document

import "fmt"

// Status mirrors the document_status reference table.
type Status int16

const (
	StatusDownloaded Status = 1
	StatusParsed     Status = 2
	StatusEmbedded   Status = 3
	StatusReady      Status = 4
	StatusFailed     Status = 5
)

var statusNames = map[Status]string{
	StatusDownloaded: "downloaded",
	StatusParsed:     "parsed",
	StatusEmbedded:   "embedded",
	StatusReady:      "ready",
	StatusFailed:     "failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int16(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus resolves a status name as used in API query params.
func ParseStatus(name string) (Status, bool) {
	for s, n := range statusNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// CanTransition enforces the lifecycle graph:
// downloaded → parsed → embedded → ready, any non-terminal → failed,
// and failed → downloaded for an operator retry reset.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusParsed:
		return from == StatusDownloaded
	case StatusEmbedded:
		return from == StatusParsed
	case StatusReady:
		return from == StatusEmbedded
	case StatusFailed:
		return from != StatusReady && from != StatusFailed
	case StatusDownloaded:
		return from == StatusFailed
	default:
		return false
	}
}

// InvalidTransitionError is returned when a status change would skip a stage
// or move backward outside the retry reset.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
