// ledger.go - The orchestrator that owns the chain and every pool.
//
// The Ledger serialises all state changes behind one mutex. The only long
// running step, the proof-of-work search, runs on a private copy of the
// candidate block without the lock; committing it re-checks the tip.

package ledger

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"zolana/internal/chain"
	"zolana/internal/clock"
	"zolana/internal/consensus"
	"zolana/internal/mempool"
	"zolana/internal/metrics"
	"zolana/internal/shielded"
	"zolana/internal/utxo"
	"zolana/internal/wallet"
)

// BlockListener receives a copy of every block appended to the chain.
type BlockListener func(block chain.Block)

// Ledger is safe for concurrent use.
type Ledger struct {
	mu             sync.Mutex
	params         Params
	blocks         []*chain.Block
	difficulty     int
	utxos          *utxo.Pool
	shieldedPool   *shielded.Pool
	usedNullifiers map[string]struct{}
	mempool        *mempool.Mempool
	consensus      *consensus.Engine

	prover   shielded.Prover
	verifier Verifier
	clock    clock.Clock
	random   io.Reader
	log      zerolog.Logger
	metrics  *metrics.Collector

	listenersMu sync.RWMutex
	listeners   []BlockListener
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source for block timestamps and staking activity.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithMetrics records ledger activity into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(l *Ledger) { l.metrics = c }
}

// WithProver replaces the default MiMC privacy collaborator.
func WithProver(p shielded.Prover) Option {
	return func(l *Ledger) { l.prover = p }
}

// WithVerifier replaces the default secp256k1 input signature check.
func WithVerifier(v Verifier) Option {
	return func(l *Ledger) { l.verifier = v }
}

// WithRandom sets the randomness used for validator selection.
func WithRandom(r io.Reader) Option {
	return func(l *Ledger) { l.random = r }
}

// New creates a ledger holding only the genesis block.
func New(params Params, opts ...Option) (*Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		params:         params,
		difficulty:     params.Difficulty,
		utxos:          utxo.NewPool(),
		shieldedPool:   shielded.NewPool(),
		usedNullifiers: make(map[string]struct{}),
		mempool:        mempool.New(mempool.Config{MaxSize: params.MempoolSize}),
		clock:          clock.System{},
		random:         rand.Reader,
		verifier:       wallet.Verifier{},
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.prover == nil {
		l.prover = shielded.NewMiMC(shielded.WithClock(l.clock.Now))
	}
	l.consensus = consensus.New(params.Staking,
		consensus.WithClock(l.clock),
		consensus.WithRandom(l.random),
		consensus.WithLogger(l.log.With().Str("component", "consensus").Logger()),
	)

	genesis := chain.NewGenesis(l.now(), params.Difficulty)
	l.blocks = []*chain.Block{genesis}
	l.log.Info().Str("hash", genesis.Hash).Int("difficulty", params.Difficulty).Msg("genesis block created")
	l.metrics.SetGauge(metrics.MetricChainHeight, 0, nil)
	return l, nil
}

// Params returns the protocol constants.
func (l *Ledger) Params() Params {
	return l.params
}

// OnBlock registers fn to be called after each block is appended. Listeners
// run on the producing goroutine after the ledger lock is released.
func (l *Ledger) OnBlock(fn BlockListener) {
	l.listenersMu.Lock()
	l.listeners = append(l.listeners, fn)
	l.listenersMu.Unlock()
}

func (l *Ledger) emit(b chain.Block) {
	l.listenersMu.RLock()
	listeners := append([]BlockListener(nil), l.listeners...)
	l.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(*b.Clone())
	}
}

func (l *Ledger) now() int64 {
	return l.clock.Now().UnixMilli()
}

func (l *Ledger) tip() *chain.Block {
	return l.blocks[len(l.blocks)-1]
}
