package runner

import (
	"sync"

	"ai-terminal/internal/domain"
)

// channelSink bridges an executor's event stream onto a channel consumed by
// the driver loop. Once closed, Emit fails fast instead of blocking forever
// against a consumer that will never come back.
type channelSink struct {
	events chan domain.ExecutionEvent
	done   chan struct{}
	once   sync.Once
}

func newChannelSink(buffer int) *channelSink {
	return &channelSink{
		events: make(chan domain.ExecutionEvent, buffer),
		done:   make(chan struct{}),
	}
}

func (s *channelSink) Emit(event domain.ExecutionEvent) error {
	select {
	case <-s.done:
		return domain.NewSubSystemError("runner", "channelSink.Emit", domain.ErrSinkClosed, event.Kind.String())
	case s.events <- event:
		return nil
	}
}

// Close abandons the stream. Any in-flight Emit unblocks with ErrSinkClosed.
func (s *channelSink) Close() {
	s.once.Do(func() { close(s.done) })
}
