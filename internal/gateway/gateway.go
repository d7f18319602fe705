// Package gateway connects chat transports to the agent.
package gateway

import "context"

// Messenger defines the interface for communication gateways (Telegram, console)
type Messenger interface {
	// Start runs the message loop until ctx is cancelled or input ends
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

const troubleReply = "I'm having trouble with that right now. Please try again."
