package store

import (
	"context"
	"sync"
)

// notifier fans definition ids out to in-process subscribers. Slow
// subscribers miss updates instead of blocking writers.
type notifier struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[chan string]struct{})}
}

func (n *notifier) subscribe(ctx context.Context) <-chan string {
	ch := make(chan string, 16)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		if _, ok := n.subs[ch]; ok {
			delete(n.subs, ch)
			close(ch)
		}
		n.mu.Unlock()
	}()
	return ch
}

func (n *notifier) publish(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- id:
		default:
		}
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		delete(n.subs, ch)
		close(ch)
	}
}
