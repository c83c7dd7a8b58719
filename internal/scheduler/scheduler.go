// Package scheduler runs the two process-wide periodic tasks that decide
// upload allocation: preferred-neighbor recomputation, driven by download
// rate, and optimistic-unchoke rotation, driven by a uniform random pick
// among interested-but-choked peers.
package scheduler

import (
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/EthanAGit/p2pProj/internal/activitylog"
	"github.com/EthanAGit/p2pProj/internal/linkset"
	"github.com/EthanAGit/p2pProj/internal/ratestat"
)

// Peer is the narrow surface the scheduler needs from a PeerLink.
type Peer interface {
	ID() string
	NeighborInterestedInMe() bool
	IChokeNeighbor() bool
	DrainBytes() int64
	SetChoked(choked bool)
}

// Registry is the narrow surface the scheduler needs to tell seeding from
// leeching.
type Registry interface {
	IsComplete() bool
}

// Scheduler owns preferredSet and optimistic, both mutated only by the two
// background tasks and read by anything that needs the current allocation.
type Scheduler struct {
	set      *linkset.Set
	registry Registry
	log      *activitylog.Logger
	rate     *ratestat.Tracker
	k        int
	p        time.Duration
	m        time.Duration

	mu           sync.Mutex
	rng          *rand.Rand
	preferredSet map[string]Peer
	optimistic   Peer

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Scheduler. k is NumberOfPreferredNeighbors, p the
// unchoking interval, m the optimistic-unchoking interval.
func New(set *linkset.Set, reg Registry, log *activitylog.Logger, k int, p, m time.Duration) *Scheduler {
	return &Scheduler{
		set:          set,
		registry:     reg,
		log:          log,
		rate:         ratestat.New(),
		k:            k,
		p:            p,
		m:            m,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		preferredSet: make(map[string]Peer),
		quit:         make(chan struct{}),
	}
}

// Start launches the two background tasks. Call Stop to shut them down.
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go s.runPreferredNeighborTask()
	go s.runOptimisticUnchokeTask()
}

// Stop signals both tasks to exit and waits for them.
func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Scheduler) peers() []Peer {
	snap := s.set.Snapshot()
	out := make([]Peer, 0, len(snap))
	for _, l := range snap {
		if p, ok := l.(Peer); ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Scheduler) runPreferredNeighborTask() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-time.After(s.p):
			s.safely("preferred-neighbor task", s.recomputePreferredSet)
		}
	}
}

func (s *Scheduler) runOptimisticUnchokeTask() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-time.After(s.m):
			s.safely("optimistic-unchoke task", s.rotateOptimistic)
		}
	}
}

// safely runs fn, recovering and logging any panic so one bad tick can't
// kill the goroutine running it.
func (s *Scheduler) safely(taskName string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: %s panicked: %v", taskName, r)
		}
	}()
	fn()
}

type peerRate struct {
	peer  Peer
	bytes int64
}

// recomputePreferredSet picks the k peers to unchoke for download rate:
// a uniform random k while seeding, the top k by bytes received per
// interval while leeching (ties broken randomly by shuffling the candidates
// before the stable sort).
func (s *Scheduler) recomputePreferredSet() {
	peers := s.peers()

	var candidates []peerRate
	var totalBytes int64
	for _, p := range peers {
		n := p.DrainBytes() // drained for every link, interested or not
		totalBytes += n
		if p.NeighborInterestedInMe() {
			candidates = append(candidates, peerRate{peer: p, bytes: n})
		}
	}
	s.rate.Observe(totalBytes)
	s.log.Throughput(s.rate.MeanPerInterval())

	// shuffle first so any stable sort on equal rates ties-break randomly;
	// rng is shared with rotateOptimistic's goroutine, so every use of it is
	// under s.mu, not just the read of the pointer.
	s.mu.Lock()
	s.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	s.mu.Unlock()

	seeding := s.registry.IsComplete()
	var chosen []peerRate
	if seeding {
		n := s.k
		if n > len(candidates) {
			n = len(candidates)
		}
		chosen = candidates[:n]
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].bytes > candidates[j].bytes
		})
		n := s.k
		if n > len(candidates) {
			n = len(candidates)
		}
		chosen = candidates[:n]
	}

	newSet := make(map[string]Peer, len(chosen))
	ids := make([]string, 0, len(chosen))
	for _, c := range chosen {
		newSet[c.peer.ID()] = c.peer
		ids = append(ids, c.peer.ID())
	}

	s.mu.Lock()
	s.preferredSet = newSet
	optimistic := s.optimistic
	s.mu.Unlock()

	s.log.PreferredNeighbors(ids)

	for _, p := range peers {
		_, inPreferred := newSet[p.ID()]
		isOptimistic := optimistic != nil && optimistic.ID() == p.ID()
		p.SetChoked(!(inPreferred || isOptimistic))
	}
}

// rotateOptimistic picks one interested-and-choked peer at random to
// unchoke outside the preferred set, re-choking the previous pick unless
// it has since earned a spot in the preferred set on its own.
func (s *Scheduler) rotateOptimistic() {
	peers := s.peers()

	var candidates []Peer
	for _, p := range peers {
		if p.NeighborInterestedInMe() && p.IChokeNeighbor() {
			candidates = append(candidates, p)
		}
	}

	s.mu.Lock()
	prev := s.optimistic
	preferred := s.preferredSet
	s.mu.Unlock()

	if len(candidates) == 0 {
		s.mu.Lock()
		s.optimistic = nil
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	choice := candidates[s.rng.Intn(len(candidates))]
	s.optimistic = choice
	s.mu.Unlock()

	choice.SetChoked(false)
	s.log.OptimisticNeighbor(choice.ID())

	if prev != nil && prev.ID() != choice.ID() {
		if _, stillPreferred := preferred[prev.ID()]; !stillPreferred {
			prev.SetChoked(true)
		}
	}
}
