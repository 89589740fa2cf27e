package app

import (
	"context"
	"log"
	"sync"
	"time"
)

// taskGroup runs fire-and-continue side effects. The webhook response never
// blocks on these, but shutdown waits for them so in-flight provider calls
// and mapping writes get the chance to land.
type taskGroup struct {
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func newTaskGroup() *taskGroup {
	ctx, cancel := context.WithCancel(context.Background())
	return &taskGroup{ctx: ctx, cancel: cancel}
}

// Go satisfies domain.TaskRunner. Task failures are logged, never surfaced.
func (g *taskGroup) Go(name string, fn func(context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(g.ctx); err != nil {
			log.Printf("%s: %v", name, err)
		}
	}()
}

// Wait blocks until every task finishes. When the timeout lapses first, the
// task context is cancelled so stuck calls unwind, then Wait drains them.
func (g *taskGroup) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		g.cancel()
		<-done
	}
	g.cancel()
}
