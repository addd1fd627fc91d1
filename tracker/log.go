package tracker

import (
	"log"
	"sync/atomic"
)

// debugEnabled is an atomic boolean for thread-safe debug toggle
var debugEnabled atomic.Bool

// SetDebug toggles debug logging for the package.
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

// Hot path callers should check debugEnabled.Load() first
// to avoid expensive argument evaluation (e.g., hex encoding).
// This function provides a safety check for non-hot-path calls.
func debug(format string, v ...any) {
	if debugEnabled.Load() {
		log.Printf("[DEBUG] "+format, v...)
	}
}

func info(format string, v ...any) {
	log.Printf("[INFO] "+format, v...)
}

func warn(format string, v ...any) {
	log.Printf("[WARN] "+format, v...)
}

func errorLog(format string, v ...any) {
	log.Printf("[ERROR] "+format, v...)
}
