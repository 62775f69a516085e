package controller

import (
	"chatmirror/sync"
)

// Engine is the shared sync service, wired once at startup.
var Engine *sync.Service

// SetEngine installs the service the controllers operate on.
func SetEngine(s *sync.Service) {
	Engine = s
}
