// Package link implements one instance per TCP connection, owning the
// symmetric handshake, the blocking receive loop, per-link choke/interest
// state, and the serialized send path.
package link

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EthanAGit/p2pProj/internal/activitylog"
	"github.com/EthanAGit/p2pProj/internal/bitfield"
	"github.com/EthanAGit/p2pProj/internal/errs"
	"github.com/EthanAGit/p2pProj/internal/linkset"
	"github.com/EthanAGit/p2pProj/internal/registry"
	"github.com/EthanAGit/p2pProj/internal/storage"
	"github.com/EthanAGit/p2pProj/internal/wire"
)

// Direction records which side dialed the connection.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// havable is the narrow surface the have-broadcast needs from every member
// of the LinkSet; satisfied by *Link.
type havable interface {
	deliverHaveBroadcast(idx int)
}

// Link owns one socket: the receive loop and the choke/interest state for
// that connection.
type Link struct {
	localID  string
	conn     net.Conn
	codec    *wire.Codec
	dir      Direction
	registry *registry.Registry
	storage  *storage.Adapter
	log      *activitylog.Logger
	set      *linkset.Set

	sendMu sync.Mutex

	stateMu                sync.Mutex
	remoteID               string
	remoteIDKnown          bool
	neighborBitfield       bitfield.Bitfield
	amChokedByNeighbor     bool
	iChokeNeighbor         bool
	neighborInterestedInMe bool
	amInterestedInNeighbor bool
	awaitingPiece          bool
	awaitingPieceIdx       int
	announcedComplete      bool

	bytesFromNeighborThisInterval int64
}

// New wraps an already-connected conn. The handshake has not happened yet;
// call Run to perform it and enter the receive loop.
func New(
	conn net.Conn,
	dir Direction,
	localID string,
	timeout time.Duration,
	oversizeFrame int,
	reg *registry.Registry,
	st *storage.Adapter,
	lg *activitylog.Logger,
	set *linkset.Set,
) *Link {
	codec := wire.NewCodec(conn, timeout, oversizeFrame)
	codec.SetTCPNoDelay()
	l := &Link{
		localID:            localID,
		conn:               conn,
		codec:              codec,
		dir:                dir,
		registry:           reg,
		storage:            st,
		log:                lg,
		set:                set,
		amChokedByNeighbor: true,
		iChokeNeighbor:     true,
	}
	set.Add(l)
	return l
}

// ID satisfies linkset.Link. Before the handshake completes it returns the
// connection's remote address so the link is still distinguishable in the
// set.
func (l *Link) ID() string {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.remoteIDKnown {
		return l.remoteID
	}
	return l.conn.RemoteAddr().String()
}

// RemoteID returns the handshake-confirmed remote peer id, or "" if the
// handshake has not completed.
func (l *Link) RemoteID() string {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.remoteID
}

// Run performs the handshake, sends the initial bitfield, then blocks in
// the receive loop until EOF, an I/O error, a decode error, or termination.
// On return the link has already deregistered itself from the LinkSet.
func (l *Link) Run(localPeerID uint32) error {
	defer l.terminate()

	if err := l.codec.SendHandshake(localPeerID); err != nil {
		return err
	}
	remoteID, err := l.codec.ReadHandshake()
	if err != nil {
		return err
	}
	l.stateMu.Lock()
	l.remoteID = strconv.FormatUint(uint64(remoteID), 10)
	l.remoteIDKnown = true
	l.stateMu.Unlock()

	if l.dir == Outbound {
		l.log.ConnectTo(l.remoteID)
	} else {
		l.log.ConnectedFrom(l.remoteID)
	}

	if err := l.sendBitfield(); err != nil {
		return err
	}

	for {
		msg, err := l.codec.ReadMessage()
		if err != nil {
			return err
		}
		if err := l.dispatch(msg); err != nil {
			return err
		}
	}
}

func (l *Link) terminate() {
	l.set.Remove(l)
	l.conn.Close()
}

func (l *Link) sendBitfield() error {
	snap := l.registry.Snapshot()
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	return l.codec.SendBitfield(snap)
}

func (l *Link) dispatch(msg wire.Message) error {
	switch msg.Type {
	case wire.Choke:
		return l.onChoke()
	case wire.Unchoke:
		return l.onUnchoke()
	case wire.Interested:
		return l.onInterested()
	case wire.NotInterested:
		return l.onNotInterested()
	case wire.Have:
		idx, err := wire.DecodePieceIndex(msg.Payload)
		if err != nil {
			return err
		}
		return l.onHave(idx)
	case wire.Bitfield:
		return l.onBitfield(msg.Payload)
	case wire.Request:
		idx, err := wire.DecodePieceIndex(msg.Payload)
		if err != nil {
			return err
		}
		return l.onRequest(idx)
	case wire.Piece:
		idx, data, err := wire.DecodePiece(msg.Payload)
		if err != nil {
			return err
		}
		return l.onPiece(idx, data)
	default:
		return &errs.Protocol{Op: "unreachable message type"}
	}
}

func (l *Link) onChoke() error {
	l.stateMu.Lock()
	l.amChokedByNeighbor = true
	l.awaitingPiece = false
	l.stateMu.Unlock()
	l.log.ChokedBy(l.RemoteID())
	return nil
}

func (l *Link) onUnchoke() error {
	l.stateMu.Lock()
	l.amChokedByNeighbor = false
	l.stateMu.Unlock()
	l.log.UnchokedBy(l.RemoteID())
	return l.requestNextIfNeeded()
}

func (l *Link) onInterested() error {
	l.stateMu.Lock()
	l.neighborInterestedInMe = true
	l.stateMu.Unlock()
	l.log.ReceiveInterested(l.RemoteID())
	return nil
}

func (l *Link) onNotInterested() error {
	l.stateMu.Lock()
	l.neighborInterestedInMe = false
	l.stateMu.Unlock()
	l.log.ReceiveNotInterested(l.RemoteID())
	return nil
}

func (l *Link) ensureNeighborBitfield() {
	if l.neighborBitfield == nil {
		l.neighborBitfield = bitfield.New(l.registry.NumPieces())
	}
}

func (l *Link) onHave(idx int) error {
	l.log.ReceiveHave(l.RemoteID(), idx)

	l.stateMu.Lock()
	l.ensureNeighborBitfield()
	l.neighborBitfield.Set(idx)
	haveLocally := l.registry.Have(idx)
	l.stateMu.Unlock()

	if !haveLocally {
		if err := l.becomeInterestedIfNeeded(); err != nil {
			return err
		}
		return l.requestNextIfNeeded()
	}
	return l.becomeUninterestedIfExhausted()
}

func (l *Link) onBitfield(payload []byte) error {
	bits := bitfield.Bitfield(payload).Clone()
	bits.ClearTrailing(l.registry.NumPieces())

	l.stateMu.Lock()
	l.neighborBitfield = bits
	l.stateMu.Unlock()

	_, needed := l.registry.NextNeededFrom(bits)
	if needed {
		if err := l.becomeInterestedIfNeeded(); err != nil {
			return err
		}
	} else {
		if err := l.becomeUninterestedIfExhausted(); err != nil {
			return err
		}
	}
	return l.requestNextIfNeeded()
}

// becomeInterestedIfNeeded sends `interested` exactly once per transition
// into the interested state.
func (l *Link) becomeInterestedIfNeeded() error {
	l.stateMu.Lock()
	if l.amInterestedInNeighbor {
		l.stateMu.Unlock()
		return nil
	}
	l.amInterestedInNeighbor = true
	l.stateMu.Unlock()

	l.sendMu.Lock()
	err := l.codec.SendInterested()
	l.sendMu.Unlock()
	if err != nil {
		return err
	}
	l.log.SendInterested(l.RemoteID())
	return nil
}

// becomeUninterestedIfExhausted sends `not_interested` once no piece the
// neighbor has remains needed locally.
func (l *Link) becomeUninterestedIfExhausted() error {
	l.stateMu.Lock()
	if l.neighborBitfield == nil {
		l.stateMu.Unlock()
		return nil
	}
	_, needed := l.registry.NextNeededFrom(l.neighborBitfield)
	if needed || !l.amInterestedInNeighbor {
		l.stateMu.Unlock()
		return nil
	}
	l.amInterestedInNeighbor = false
	l.stateMu.Unlock()

	l.sendMu.Lock()
	err := l.codec.SendNotInterested()
	l.sendMu.Unlock()
	if err != nil {
		return err
	}
	l.log.SendNotInterested(l.RemoteID())
	return nil
}

// requestNextIfNeeded issues a new request if unchoked, not already
// awaiting one, and a needed piece exists.
func (l *Link) requestNextIfNeeded() error {
	l.stateMu.Lock()
	if l.amChokedByNeighbor || l.awaitingPiece || l.neighborBitfield == nil {
		l.stateMu.Unlock()
		return nil
	}
	idx, ok := l.registry.NextNeededFrom(l.neighborBitfield)
	if !ok {
		l.stateMu.Unlock()
		return nil
	}
	l.awaitingPiece = true
	l.awaitingPieceIdx = idx
	l.stateMu.Unlock()

	l.sendMu.Lock()
	err := l.codec.SendRequest(idx)
	l.sendMu.Unlock()
	if err != nil {
		return err
	}
	l.log.SendRequest(l.RemoteID(), idx)
	return nil
}

func (l *Link) onRequest(idx int) error {
	if idx < 0 || idx >= l.registry.NumPieces() {
		return &errs.Invariant{Op: fmt.Sprintf("request for out-of-range piece %d", idx)}
	}

	l.stateMu.Lock()
	choking := l.iChokeNeighbor
	l.stateMu.Unlock()
	if choking {
		// Policy: a choked peer must not be served; do nothing, since choke
		// has already been signaled.
		return nil
	}

	data, err := l.storage.ReadPiece(idx)
	if err != nil {
		// StorageError: log, don't terminate the link.
		l.log.StorageFailure("read", idx, err)
		return nil
	}

	l.sendMu.Lock()
	sendErr := l.codec.SendPiece(idx, data)
	l.sendMu.Unlock()
	if sendErr != nil {
		return sendErr
	}
	l.log.SendPiece(l.RemoteID(), idx)
	return nil
}

func (l *Link) onPiece(idx int, data []byte) error {
	if idx < 0 || idx >= l.registry.NumPieces() {
		return &errs.Invariant{Op: fmt.Sprintf("piece message for out-of-range index %d", idx)}
	}

	l.stateMu.Lock()
	expected := l.awaitingPiece && idx == l.awaitingPieceIdx
	l.stateMu.Unlock()
	if !expected {
		return &errs.Invariant{Op: fmt.Sprintf("piece message for index %d never requested", idx)}
	}

	if err := l.storage.WritePiece(idx, data); err != nil {
		// StorageError: log, don't terminate; re-requested after next
		// unchoke since awaitingPiece is cleared below regardless.
		l.log.StorageFailure("write", idx, err)
		l.stateMu.Lock()
		l.awaitingPiece = false
		l.stateMu.Unlock()
		return nil
	}

	l.registry.MarkHave(idx)
	atomic.AddInt64(&l.bytesFromNeighborThisInterval, int64(len(data)))

	numHave := 0
	for i := 0; i < l.registry.NumPieces(); i++ {
		if l.registry.Have(i) {
			numHave++
		}
	}
	l.log.DownloadedPiece(l.RemoteID(), idx, numHave)

	l.broadcastHave(idx)

	l.stateMu.Lock()
	l.awaitingPiece = false
	l.stateMu.Unlock()

	if l.registry.IsComplete() {
		return l.announceCompleteOnce()
	}
	return l.requestNextIfNeeded()
}

// broadcastHave ships have(idx) to every live link, including this one; the
// neighbor that served the piece records it in its view of this peer like
// any other neighbor does.
func (l *Link) broadcastHave(idx int) {
	for _, other := range l.set.Snapshot() {
		if h, ok := other.(havable); ok {
			h.deliverHaveBroadcast(idx)
		}
	}
}

// deliverHaveBroadcast implements havable: send have(idx) on this link's
// own socket, swallowing I/O errors the way setChoked does (the receive
// loop will observe the underlying failure and terminate on its own).
func (l *Link) deliverHaveBroadcast(idx int) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	_ = l.codec.SendHave(idx)
}

// announceCompleteOnce sends not_interested on this link and runs once per
// link the moment local completion is first observed from this link's
// receive loop.
func (l *Link) announceCompleteOnce() error {
	l.stateMu.Lock()
	if l.announcedComplete {
		l.stateMu.Unlock()
		return nil
	}
	l.announcedComplete = true
	wasInterested := l.amInterestedInNeighbor
	l.amInterestedInNeighbor = false
	l.stateMu.Unlock()

	if !wasInterested {
		return nil
	}
	l.sendMu.Lock()
	err := l.codec.SendNotInterested()
	l.sendMu.Unlock()
	if err != nil {
		return err
	}
	l.log.SendNotInterested(l.RemoteID())
	return nil
}

// --- scheduler-facing accessors ---

// NeighborInterestedInMe reports whether the remote peer last told us it is
// interested.
func (l *Link) NeighborInterestedInMe() bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.neighborInterestedInMe
}

// IChokeNeighbor reports the last choke state we sent.
func (l *Link) IChokeNeighbor() bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.iChokeNeighbor
}

// DrainBytes atomically reads and zeroes the interval byte counter.
func (l *Link) DrainBytes() int64 {
	return atomic.SwapInt64(&l.bytesFromNeighborThisInterval, 0)
}

// SetChoked flips iChokeNeighbor if it differs from choke and sends the
// matching control frame. No-op if state is already as requested. I/O
// errors are swallowed: the link's own receive loop observes the
// underlying socket failure and terminates on its own.
func (l *Link) SetChoked(choke bool) {
	l.stateMu.Lock()
	if l.iChokeNeighbor == choke {
		l.stateMu.Unlock()
		return
	}
	l.iChokeNeighbor = choke
	l.stateMu.Unlock()

	l.sendMu.Lock()
	var err error
	if choke {
		err = l.codec.SendChoke()
	} else {
		err = l.codec.SendUnchoke()
	}
	l.sendMu.Unlock()
	if err != nil {
		return
	}
	if choke {
		l.log.ChokingNeighbor(l.RemoteID())
	} else {
		l.log.UnchokingNeighbor(l.RemoteID())
	}
}

// RemoteBitfieldComplete reports whether the union of the last received
// bitfield and all subsequent have indices covers every piece.
func (l *Link) RemoteBitfieldComplete() bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.neighborBitfield == nil {
		return false
	}
	return l.registry.BitfieldIsComplete(l.neighborBitfield)
}

// Close terminates the underlying connection, causing Run's receive loop
// to unwind.
func (l *Link) Close() {
	l.conn.Close()
}
