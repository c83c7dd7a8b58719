package scheduler

import (
	"sync"
	"time"

	"github.com/EthanAGit/p2pProj/internal/activitylog"
	"github.com/EthanAGit/p2pProj/internal/linkset"
)

// CompleteChecker is the narrow surface a link exposes for the completion
// watcher: whether the remote's piece set, as derived from its last
// bitfield plus all subsequent haves, is complete.
type CompleteChecker interface {
	RemoteBitfieldComplete() bool
}

// CompletionWatcher polls whether the local registry and every live link's
// remote view are both complete, and signals Done() exactly once when so.
type CompletionWatcher struct {
	set      *linkset.Set
	registry Registry
	log      *activitylog.Logger
	interval time.Duration

	once sync.Once
	done chan struct{}
	quit chan struct{}
}

// NewCompletionWatcher builds a watcher polling every interval.
func NewCompletionWatcher(set *linkset.Set, reg Registry, log *activitylog.Logger, interval time.Duration) *CompletionWatcher {
	return &CompletionWatcher{
		set:      set,
		registry: reg,
		log:      log,
		interval: interval,
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
	}
}

// Done is closed the moment the swarm is observed fully complete.
func (w *CompletionWatcher) Done() <-chan struct{} {
	return w.done
}

// Stop ends the polling loop without declaring completion.
func (w *CompletionWatcher) Stop() {
	close(w.quit)
}

// Run blocks, polling until Stop is called or completion is observed (in
// which case it logs all-peers-complete, closes Done, and returns).
func (w *CompletionWatcher) Run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			if w.checkComplete() {
				return
			}
		}
	}
}

func (w *CompletionWatcher) checkComplete() bool {
	if !w.registry.IsComplete() {
		return false
	}
	for _, l := range w.set.Snapshot() {
		cc, ok := l.(CompleteChecker)
		if !ok {
			continue
		}
		if !cc.RemoteBitfieldComplete() {
			return false
		}
	}
	w.once.Do(func() {
		w.log.AllPeersComplete()
		close(w.done)
	})
	return true
}
