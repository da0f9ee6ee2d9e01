package call

import (
	"context"

	"github.com/acme/call-memento/internal/queue"
)

// Worker binds the processor to its queue.
type Worker struct {
	queue     *queue.Client
	queueName string
	groupID   string
	processor *Processor
}

func New(q *queue.Client, queueName, groupID string, processor *Processor) *Worker {
	return &Worker{queue: q, queueName: queueName, groupID: groupID, processor: processor}
}

// Run consumes place-call jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.queue.Work(ctx, w.queueName, w.groupID, w.processor.Handle)
}
