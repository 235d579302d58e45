package provider

import (
	"context"
	"fmt"
	"strings"
)

// Transport is the outbound mail delivery port. A nil error means the message
// was accepted for delivery; every failure is reported as an error.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	// Name identifies the transport endpoint for logs, metrics and rate limiting.
	Name() string
}

// Message is a single outbound email.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
	From    string
}

func (m Message) Validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	for _, to := range m.To {
		if strings.TrimSpace(to) == "" {
			return fmt.Errorf("recipient must not be blank")
		}
	}
	return nil
}
