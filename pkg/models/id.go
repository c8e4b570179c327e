package models

import (
	"crypto/rand"
	"encoding/hex"
)

// ID prefixes for each entity type. The prefix is part of the wire
// contract: clients pattern-match on it.
const (
	PrefixAssistant = "asst"
	PrefixThread    = "thread"
	PrefixMessage   = "msg"
	PrefixRun       = "run"
	PrefixFile      = "file"
	PrefixToolCall  = "call"
)

// NewID mints an opaque identifier of the form "<prefix>_<24 hex chars>".
func NewID(prefix string) string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read is documented never to fail on supported platforms.
		panic("models: rand.Read: " + err.Error())
	}
	return prefix + "_" + hex.EncodeToString(b[:])
}
