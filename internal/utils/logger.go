package utils

import (
	"fmt"
	"log"
	"strings"
)

var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// EventLine renders one log line. Provider and user supplied text ends up in
// message, so line breaks are flattened to keep one event per line.
func EventLine(requestID, module, action, message string) string {
	req := strings.TrimSpace(requestID)
	if req == "" {
		req = "-"
	}
	return fmt.Sprintf("[%s] action=%s request_id=%s msg=%s",
		strings.ToUpper(module), action, req, lineBreaks.Replace(message))
}

// LogEvent prints a standardized line with module/action/request_id. Never
// pass secrets or full payloads as message.
func LogEvent(requestID, module, action, message string) {
	log.Print(EventLine(requestID, module, action, message))
}
