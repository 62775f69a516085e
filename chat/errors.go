package chat

import "errors"

// Sentinel errors sources return so the download pipeline and resolver can
// classify failures without knowing transport details.
var (
	ErrUnauthorized = errors.New("chat: credential rejected")
	ErrNotFound     = errors.New("chat: remote resource not found")
	ErrTransient    = errors.New("chat: transient remote failure")
)
