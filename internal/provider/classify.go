package provider

import "strings"

// Class is the normalized meaning of a free-text provider status.
type Class int

const (
	ClassInFlight Class = iota
	ClassSuccess
	ClassFailure
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassFailure:
		return "failure"
	default:
		return "in_flight"
	}
}

// Provider status vocabularies are free text and inconsistent between
// providers, so matching is substring based. Failure keywords are checked
// first: "unsuccessful" must not match the "successful" success keyword.
var failureKeywords = []string{
	"unsuccessful",
	"failed",
	"failure",
	"error",
	"cancelled",
	"canceled",
	"rejected",
	"refund",
	"invalid",
}

var successKeywords = []string{
	"successful",
	"success",
	"delivered",
	"completed",
	"processed",
}

// Classify maps a raw provider status string to a Class. Anything that
// matches neither keyword table is still in flight.
func Classify(raw string) Class {
	text := strings.ToLower(raw)

	for _, kw := range failureKeywords {
		if strings.Contains(text, kw) {
			return ClassFailure
		}
	}
	for _, kw := range successKeywords {
		if strings.Contains(text, kw) {
			return ClassSuccess
		}
	}
	return ClassInFlight
}
