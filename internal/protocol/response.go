package protocol

import (
	"fmt"
	"strings"
)

const (
	successPrefix = "SUCCESS: "
	errorPrefix   = "ERROR: "

	// ReplyEmpty is the LIST reply for a volume with no files
	ReplyEmpty = "EMPTY"

	// ReplyDisconnecting is sent before the server closes the connection
	ReplyDisconnecting = successPrefix + "disconnecting"

	// ReplyInternalError is sent when a failure carries no message
	ReplyInternalError = errorPrefix + "Internal server error"
)

// Created formats the CREATE success reply.
func Created(name string) string {
	return fmt.Sprintf("%sfile %s created", successPrefix, name)
}

// Wrote formats the WRITE success reply.
func Wrote(name string) string {
	return successPrefix + "wrote to " + name
}

// Deleted formats the DELETE success reply.
func Deleted(name string) string {
	return fmt.Sprintf("%sfile %s deleted", successPrefix, name)
}

// Listing formats the LIST reply: names joined by commas, or EMPTY.
func Listing(names []string) string {
	if len(names) == 0 {
		return ReplyEmpty
	}
	return strings.Join(names, ",")
}

// Error formats a failure reply from err's message.
func Error(err error) string {
	if err == nil {
		return ReplyInternalError
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return ReplyInternalError
	}
	return errorPrefix + msg
}
