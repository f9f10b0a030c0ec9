package common

import "strings"

const (
	MIMEMsgpack  = "application/msgpack"
	mimeXMsgpack = "application/x-msgpack"
)

// HasAny returns true if s contains any of the substrings.
func HasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsMsgpack reports whether a Content-Type or Accept header names MessagePack.
func IsMsgpack(header string) bool {
	return HasAny(strings.ToLower(header), MIMEMsgpack, mimeXMsgpack)
}
