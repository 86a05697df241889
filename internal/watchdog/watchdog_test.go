package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"carina/internal/model"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []model.WatchdogCommand
}

func (s *recordingSink) Send(ctx context.Context, v model.WatchdogCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, v)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestRunEnqueuesFailsafeCommandUntilCancelled(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		Run(ctx, sink, nil)
		close(done)
	}()

	<-done
	require.GreaterOrEqual(t, sink.count(), 1)
	require.Equal(t, Command, sink.sent[0])
	require.Equal(t, Command, model.WatchdogCommand{Type: "set_program_all", Value: "0"})
}
