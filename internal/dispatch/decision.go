package dispatch

import (
	"time"

	"github.com/autokita/wa-campaign-engine/internal/apperrors"
)

// AckNakAction represents the decision made after processing a task
type AckNakAction int

const (
	ActionAck       AckNakAction = iota // Task processed successfully, ACK it
	ActionNakDelay                      // Retryable error, NAK with calculated delay
	ActionExhausted                     // Max retries reached or fatal error, record terminal failure then ACK
)

// determineAckNakAction decides the fate of a task based on the processing
// result and delivery count. Fatal errors and exhausted budgets both resolve
// to ActionExhausted so the caller records the failure exactly once before
// acking; redelivery would reprocess a task that can never succeed.
func determineAckNakAction(
	processingErr error,
	numDelivered uint64,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {

	if processingErr == nil {
		return ActionAck, 0
	}

	isRetryable := apperrors.IsRetryable(processingErr)

	if numDelivered >= uint64(maxDeliver) || !isRetryable {
		return ActionExhausted, 0
	}

	// Retryable error with attempts remaining: NAK with exponential delay
	attempt := numDelivered
	delay = nakBaseDelay
	if attempt > 1 {
		delay = nakBaseDelay * (1 << (attempt - 1))
	}
	if delay > nakMaxDelay {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}
