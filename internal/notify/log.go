// ABOUTME: Log-only message sink for deployments without an outbound channel
// ABOUTME: Messages are written to the standard logger and never fail
package notify

import (
	"context"
	"log"

	"github.com/harper/auticonnect-mediator/internal/models"
)

// LogSender writes mediator messages to the log
type LogSender struct{}

// Send logs the message
func (LogSender) Send(ctx context.Context, target models.Target, text string) error {
	log.Printf("[notify] %s/%s: %s", target.Kind, target.ID, text)
	return nil
}
