package channels

import (
	"context"
	"time"
)

// ChannelAdapter is a transport that feeds chat images into the bot.
type ChannelAdapter interface {
	// Name returns the human-readable name for this adapter
	Name() string

	// Start connects and begins receiving updates. It returns once the
	// adapter is running; updates are handled in the background.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter
	Stop() error

	// Status returns the current adapter status
	Status() ChannelStatus
}

// ChannelStatus represents the current status of a channel adapter
type ChannelStatus struct {
	Status    StatusCode     `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StatusCode represents the various states an adapter can be in
type StatusCode string

const (
	StatusInitializing StatusCode = "initializing"
	StatusOnline       StatusCode = "online"
	StatusOffline      StatusCode = "offline"
	StatusError        StatusCode = "error"
)
