// Package messaging provides the SMS delivery abstraction and the inbound
// response loop that feeds the dialogue engine.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/brewtap/brewtap/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size for receipt and response
	// channels.
	DefaultChannelBufferSize = 100

	// DefaultChannelTimeout bounds how long an emit blocks on a full
	// channel before the event is dropped.
	DefaultChannelTimeout = 5 * time.Second
)

// ErrServiceStopped is returned when operations are attempted on a stopped
// service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction. It supports
// sending messages, and provides channels for receipt and response events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier. Returns the canonicalized recipient and an
	// error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming customer messages.
	Responses() <-chan models.Response
}
