package model

import "strings"

// Kind tags a request envelope with its protocol intent.
type Kind int

const (
	KindConnect Kind = 0
	KindSign    Kind = 1
	KindSend    Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindSign:
		return "sign"
	case KindSend:
		return "send"
	default:
		return "unknown"
	}
}

func (k Kind) Valid() bool {
	return k == KindConnect || k == KindSign || k == KindSend
}

// ParseKind accepts the names returned by String.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "connect":
		return KindConnect, true
	case "sign":
		return KindSign, true
	case "send":
		return KindSend, true
	default:
		return KindConnect, false
	}
}
