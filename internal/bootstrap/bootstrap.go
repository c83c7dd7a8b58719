// Package bootstrap wires one swarm participant together end to end: it
// parses the peer id, loads configuration, constructs the shared services,
// launches the accept loop and the outbound dials, and blocks until the
// swarm completes or a shutdown signal arrives.
package bootstrap

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/EthanAGit/p2pProj/internal/activitylog"
	"github.com/EthanAGit/p2pProj/internal/config"
	"github.com/EthanAGit/p2pProj/internal/errs"
	"github.com/EthanAGit/p2pProj/internal/link"
	"github.com/EthanAGit/p2pProj/internal/linkset"
	"github.com/EthanAGit/p2pProj/internal/registry"
	"github.com/EthanAGit/p2pProj/internal/scheduler"
	"github.com/EthanAGit/p2pProj/internal/storage"
)

// minReadTimeout is the lower bound on the socket read timeout, which is
// otherwise one unchoking interval, so a quiet interval never looks like a
// stuck read even when the configured interval is very short.
const minReadTimeout = 15 * time.Second

// Peer runs one swarm participant end to end: server, outbound dials, the
// two choke schedulers, and the completion watcher.
type Peer struct {
	id       string
	idNum    uint32
	cfg      *config.Common
	log      *activitylog.Logger
	reg      *registry.Registry
	store    *storage.Adapter
	set      *linkset.Set
	sched    *scheduler.Scheduler
	watch    *scheduler.CompletionWatcher
	ln       net.Listener
	quit     chan struct{}
	timeout  time.Duration
	port     int
	stopOnce sync.Once
}

// New constructs a Peer for the given id, loading Common.cfg and
// PeerInfo.cfg from the working directory.
func New(peerID string) (*Peer, error) {
	cfg, err := config.Load("Common.cfg", "PeerInfo.cfg")
	if err != nil {
		return nil, err
	}
	me, ok := cfg.PeerByID(peerID)
	if !ok {
		return nil, &errs.Config{Op: fmt.Sprintf("peer id %q not found in PeerInfo.cfg", peerID)}
	}
	idNum64, err := strconv.ParseUint(peerID, 10, 32)
	if err != nil {
		return nil, &errs.Config{Op: "peer id must be a 32-bit integer", Err: err}
	}

	lg, err := activitylog.Open(peerID)
	if err != nil {
		return nil, &errs.Config{Op: "open log file", Err: err}
	}

	reg := registry.New(cfg.NumPieces, me.HasFile)
	store, err := storage.Open(afero.NewOsFs(), peerID, cfg.FileName, cfg.FileSize, cfg.PieceSize)
	if err != nil {
		return nil, err
	}

	set := linkset.New()

	p := &Peer{
		id:    peerID,
		idNum: uint32(idNum64),
		cfg:   cfg,
		log:   lg,
		reg:   reg,
		store: store,
		set:   set,
		port:  me.Port,
		quit:  make(chan struct{}),
	}

	timeout := time.Duration(cfg.UnchokingInterval) * time.Second
	if timeout < minReadTimeout {
		timeout = minReadTimeout
	}
	p.timeout = timeout

	p.sched = scheduler.New(set, reg, lg, cfg.NumberOfPreferredNeighbors,
		time.Duration(cfg.UnchokingInterval)*time.Second,
		time.Duration(cfg.OptimisticUnchokingInterval)*time.Second)
	p.watch = scheduler.NewCompletionWatcher(set, reg, lg, 30*time.Second)

	return p, nil
}

func (p *Peer) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-p.quit:
				return
			default:
				continue
			}
		}
		p.spawnLink(conn, link.Inbound)
	}
}

func (p *Peer) spawnLink(conn net.Conn, dir link.Direction) {
	l := link.New(conn, dir, p.id, p.timeout, p.cfg.PieceSize+16, p.reg, p.store, p.log, p.set)
	go func() {
		_ = l.Run(p.idNum)
	}()
}

func (p *Peer) dialEarlierPeers() {
	for _, peer := range p.cfg.PeersBefore(p.id) {
		addr := net.JoinHostPort(peer.Host, strconv.Itoa(peer.Port))
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			continue
		}
		p.spawnLink(conn, link.Outbound)
	}
}

// Run starts the server, dials earlier peers, starts both schedulers and
// the completion watcher, and blocks until the swarm completes or Stop is
// called.
func (p *Peer) Run() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(p.port)))
	if err != nil {
		return &errs.IO{Op: "listen", Err: err}
	}
	p.ln = ln

	go p.acceptLoop()
	p.dialEarlierPeers()

	p.sched.Start()
	go p.watch.Run()

	select {
	case <-p.watch.Done():
		p.log.DownloadComplete()
	case <-p.quit:
	}
	return nil
}

// Stop shuts every background task and the listener down. Safe to call more
// than once, and safe to call after Run has already returned on its own.
func (p *Peer) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.ln.Close()
		p.sched.Stop()
		p.watch.Stop()
		p.store.Close()
		p.log.Close()
	})
}
