package broker

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/corewire/taskqueue/task"
)

func (b *Broker) completionChannel() string {
	return b.key("completions")
}

// CompletionEvent carries a task-id and the terminal status it reached.
type CompletionEvent struct {
	TaskID uuid.UUID
	Status task.Status
}

// PublishCompletion announces a task's terminal status. Delivery is
// best-effort: a subscriber that misses an event must recover by
// polling the Store, never by trusting this channel alone.
func (b *Broker) PublishCompletion(ctx context.Context, taskID uuid.UUID, status task.Status) error {
	return b.client.Publish(ctx, b.completionChannel(), taskID.String()+":"+status.String()).Err()
}

// SubscribeCompletions streams completion events until ctx is
// cancelled. The returned closer unsubscribes and releases the
// connection; callers should defer it.
func (b *Broker) SubscribeCompletions(ctx context.Context) (<-chan CompletionEvent, func() error) {
	sub := b.client.Subscribe(ctx, b.completionChannel())
	out := make(chan CompletionEvent, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				ev, ok := parseCompletion(msg.Payload)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, sub.Close
}

func parseCompletion(payload string) (CompletionEvent, bool) {
	idx := strings.LastIndex(payload, ":")
	if idx < 0 {
		return CompletionEvent{}, false
	}
	id, err := uuid.Parse(payload[:idx])
	if err != nil {
		return CompletionEvent{}, false
	}
	status, err := task.ParseStatus(payload[idx+1:])
	if err != nil {
		return CompletionEvent{}, false
	}
	return CompletionEvent{TaskID: id, Status: status}, true
}
