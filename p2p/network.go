// network.go - In-process relay: node registry, peering and a message queue.
//
// The Network does not open sockets itself. Messages are queued per recipient
// and either drained by the caller with ProcessMessages or pushed to remote
// nodes with Deliver over a Transport.

package p2p

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"zolana/internal/chain"
	"zolana/internal/clock"
	"zolana/internal/ledger"
)

// DefaultMaxPeers caps the peers of any one node.
const DefaultMaxPeers = 8

var (
	ErrUnknownNode = errors.New("node not registered")
	ErrPeerLimit   = errors.New("peer limit reached")
	ErrSelfPeering = errors.New("node cannot peer with itself")
)

// Peer is a registered node as seen by the relay.
type Peer struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"`
	Port     int       `json:"port"`
	Peers    []string  `json:"peers"`
	LastSeen time.Time `json:"lastSeen"`
}

// Endpoint returns host:port.
func (p Peer) Endpoint() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
}

type peer struct {
	Peer
	links map[string]struct{}
}

// Transport sends one message to a remote endpoint.
type Transport interface {
	Send(ctx context.Context, endpoint string, msg Message) error
}

// Network is safe for concurrent use.
type Network struct {
	mu       sync.Mutex
	id       string
	nodes    map[string]*peer
	queue    []Message
	maxPeers int
	clock    clock.Clock
	log      zerolog.Logger
}

// Option configures a Network.
type Option func(*Network)

// WithMaxPeers overrides DefaultMaxPeers.
func WithMaxPeers(n int) Option {
	return func(nw *Network) { nw.maxPeers = n }
}

// WithClock sets the time source for message timestamps and last-seen marks.
func WithClock(c clock.Clock) Option {
	return func(nw *Network) { nw.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(nw *Network) { nw.log = l }
}

// NewNetwork creates an empty relay with its own identity.
func NewNetwork(opts ...Option) *Network {
	nw := &Network{
		id:       uuid.NewString(),
		nodes:    make(map[string]*peer),
		maxPeers: DefaultMaxPeers,
		clock:    clock.System{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(nw)
	}
	return nw
}

// ID is the relay's own identity, used to tag outgoing messages.
func (nw *Network) ID() string { return nw.id }

// RegisterNode adds a node reachable at address:port and returns its id.
func (nw *Network) RegisterNode(address string, port int) string {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	id := uuid.NewString()
	nw.nodes[id] = &peer{
		Peer:  Peer{ID: id, Address: address, Port: port, LastSeen: nw.clock.Now()},
		links: make(map[string]struct{}),
	}
	nw.log.Debug().Str("node", id).Str("address", address).Int("port", port).Msg("node registered")
	return id
}

// ConnectPeers links two nodes in both directions. Neither may already be at
// the peer limit.
func (nw *Network) ConnectPeers(a, b string) error {
	if a == b {
		return ErrSelfPeering
	}
	nw.mu.Lock()
	defer nw.mu.Unlock()

	na, ok := nw.nodes[a]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, a)
	}
	nb, ok := nw.nodes[b]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, b)
	}
	if _, linked := na.links[b]; linked {
		return nil
	}
	if len(na.links) >= nw.maxPeers || len(nb.links) >= nw.maxPeers {
		return fmt.Errorf("%w: %d", ErrPeerLimit, nw.maxPeers)
	}
	na.links[b] = struct{}{}
	nb.links[a] = struct{}{}
	return nil
}

// Nodes returns every registered node sorted by id.
func (nw *Network) Nodes() []Peer {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	out := make([]Peer, 0, len(nw.nodes))
	for _, n := range nw.nodes {
		out = append(out, n.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Peers returns the nodes linked to id.
func (nw *Network) Peers(id string) []Peer {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	n, ok := nw.nodes[id]
	if !ok {
		return nil
	}
	out := make([]Peer, 0, len(n.links))
	for pid := range n.links {
		if p, ok := nw.nodes[pid]; ok {
			out = append(out, p.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *peer) snapshot() Peer {
	s := p.Peer
	s.Peers = make([]string, 0, len(p.links))
	for id := range p.links {
		s.Peers = append(s.Peers, id)
	}
	sort.Strings(s.Peers)
	return s
}

// Broadcast queues one copy of msg for every peer of its sender.
func (nw *Network) Broadcast(msg Message) error {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	sender, ok := nw.nodes[msg.SenderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, msg.SenderID)
	}
	sender.LastSeen = nw.clock.Now()
	if msg.Signature == "" {
		msg.Signature = sign(msg.Payload, nw.id)
	}
	for pid := range sender.links {
		m := msg
		m.To = pid
		nw.queue = append(nw.queue, m)
	}
	nw.log.Debug().Str("type", msg.Type).Str("from", msg.SenderID).Int("peers", len(sender.links)).Msg("message broadcast")
	return nil
}

// PropagateBlock broadcasts block from node from.
func (nw *Network) PropagateBlock(block chain.Block, from string) error {
	msg, err := NewMessage(MessageBlock, from, nw.clock.Now().UnixMilli(), block)
	if err != nil {
		return err
	}
	return nw.Broadcast(msg)
}

// PropagateTransaction broadcasts tx from node from.
func (nw *Network) PropagateTransaction(tx chain.Transaction, from string) error {
	msg, err := NewMessage(MessageTransaction, from, nw.clock.Now().UnixMilli(), tx)
	if err != nil {
		return err
	}
	return nw.Broadcast(msg)
}

// BlockSource publishes newly appended blocks.
type BlockSource interface {
	OnBlock(fn ledger.BlockListener)
}

// Follow propagates every block src produces as if it came from nodeID.
func (nw *Network) Follow(src BlockSource, nodeID string) {
	src.OnBlock(func(b chain.Block) {
		if err := nw.PropagateBlock(b, nodeID); err != nil {
			nw.log.Warn().Err(err).Uint64("height", b.Index).Msg("block propagation failed")
		}
	})
}

// ProcessMessages drains and returns the queue in send order.
func (nw *Network) ProcessMessages() []Message {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	out := nw.queue
	nw.queue = nil
	return out
}

// Pending returns the number of queued messages.
func (nw *Network) Pending() int {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	return len(nw.queue)
}

// Deliver drains the queue and sends each message to its recipient's
// endpoint. Messages that fail are logged and dropped; the number delivered is
// returned.
func (nw *Network) Deliver(ctx context.Context, tr Transport) int {
	msgs := nw.ProcessMessages()
	delivered := 0
	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		nw.mu.Lock()
		target, ok := nw.nodes[msg.To]
		var endpoint string
		if ok {
			endpoint = target.Endpoint()
		}
		nw.mu.Unlock()
		if !ok {
			continue
		}
		if err := tr.Send(ctx, endpoint, msg); err != nil {
			nw.log.Warn().Err(err).Str("to", msg.To).Str("type", msg.Type).Msg("delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

// Latency simulates a one-way network delay between 50 and 150 ms.
func Latency() time.Duration {
	return 50*time.Millisecond + rand.N(100*time.Millisecond)
}
