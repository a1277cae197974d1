package livereload

import (
	"path/filepath"
	"strings"
)

// MessageType represents the type of a live reload message
type MessageType string

const (
	// MessageTypeHello is sent once after connecting.
	MessageTypeHello MessageType = "hello"
	// MessageTypeReload asks the page to reload.
	MessageTypeReload MessageType = "reload"
	// MessageTypeCSS asks the page to re-fetch its stylesheets in place.
	MessageTypeCSS       MessageType = "css"
	MessageTypeHeartbeat MessageType = "heartbeat"
	MessageTypeError     MessageType = "error"
)

// ServerMessage represents a message to the browser
type ServerMessage struct {
	Type   MessageType `json:"type"`
	ID     string      `json:"id,omitempty"`
	Notify bool        `json:"notify,omitempty"`
	Paths  []string    `json:"paths,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ClientMessage represents a message from the browser
type ClientMessage struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url,omitempty"`
}

// KindFor picks the reload type for a set of changed paths: stylesheet
// changes alone are injected, anything else reloads the page.
func KindFor(changed []string) MessageType {
	if len(changed) == 0 {
		return MessageTypeReload
	}
	for _, p := range changed {
		switch strings.ToLower(filepath.Ext(p)) {
		case ".css", ".scss", ".sass":
		default:
			return MessageTypeReload
		}
	}
	return MessageTypeCSS
}

// merge combines two pending reload types; a full reload wins.
func merge(a, b MessageType) MessageType {
	if a == "" {
		return b
	}
	if a == MessageTypeReload || b == MessageTypeReload {
		return MessageTypeReload
	}
	return MessageTypeCSS
}
