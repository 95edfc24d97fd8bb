package orders

import "strings"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// ParseStatus accepts "shipped" as well as "SHIPPED".
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validNext[st]; !ok {
		return "", &ValidationError{Kind: KindInvalidStatus, Message: "unknown status " + s}
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// ValidateTransition is the pure policy check; callers must pass the status
// they re-read under lock, not a client-held copy.
func ValidateTransition(from, to Status) error {
	if !to.Valid() {
		return &ValidationError{Kind: KindInvalidStatus, Message: "unknown status " + string(to)}
	}
	if !CanTransition(from, to) {
		return &ValidationError{Kind: KindInvalidTransition, From: from, To: to}
	}
	return nil
}

func IsTerminal(s Status) bool {
	return s.Valid() && len(validNext[s]) == 0
}

// ItemsMutable reports whether line items may still be added, changed or removed.
func ItemsMutable(s Status) bool {
	return s == StatusPending || s == StatusProcessing
}

func checkMutable(s Status) error {
	if !ItemsMutable(s) {
		return &ValidationError{Kind: KindOrderLocked, From: s}
	}
	return nil
}
