package responder

import (
	"log"
	"os"
	"strings"
)

var responderDebugEnabled = strings.EqualFold(os.Getenv("DMINBOX_RESPONDER_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if responderDebugEnabled {
		log.Printf(format, args...)
	}
}
