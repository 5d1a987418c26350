// Package worker consumes ledger events into a durable audit trail.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/phoen-ix/bank-of-tina/internal/amqp"
)

// AuditWorker appends every committed balance mutation to an
// append-only JSON lines file, giving an off-database record of who
// moved money and when.
type AuditWorker struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func NewAuditWorker(path string) (*AuditWorker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &AuditWorker{path: path, file: f}, nil
}

// HandleEvent records one ledger event. Called from the AMQP consume
// loop; a returned error requeues the message.
func (w *AuditWorker) HandleEvent(msg *amqp.LedgerEventMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	slog.Info("Audit entry recorded",
		"action", msg.Action,
		"transaction_id", msg.TransactionID,
		"type", msg.Type,
		"amount", msg.Amount)
	return nil
}

// Run consumes ledger events until ctx is cancelled.
func (w *AuditWorker) Run(ctx context.Context, client *amqp.Client) error {
	return client.ConsumeLedgerEvents(ctx, w.HandleEvent)
}

func (w *AuditWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
