// main.go - Single-node ledger daemon.
//
// The daemon runs a block producer next to a read-only status API and a relay
// that forwards every produced block to configured peers:
//   - the miner wallet mines proof-of-work blocks on a fixed interval
//   - after each block it pays a recipient, transparently and shielded
//   - every pos_every blocks the registered validators run a proof-of-stake round
//
// Usage:
//   go run ./cmd/zolanad -config zolanad.json -blocks 20

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"zolana/internal/chain"
	"zolana/internal/ledger"
	"zolana/internal/metrics"
	"zolana/internal/wallet"
	"zolana/p2p"
)

func main() {
	configPath := flag.String("config", "zolanad.json", "path to the JSON config file, created with defaults if missing")
	blocks := flag.Int("blocks", -1, "stop after this many mined blocks (0 runs until interrupted); overrides max_blocks")
	flag.Parse()

	config, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *blocks >= 0 {
		config.MaxBlocks = *blocks
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	auditPath := ""
	if config.EnableAudit {
		auditPath = config.AuditLogPath
	}
	logger, err := NewLogger(config.LogLevel, config.LogFile, auditPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		logger.Fatal("daemon failed: %v", err)
	}
}

func run(parent context.Context, cfg *Config, logger *Logger) error {
	params, err := cfg.LedgerParams()
	if err != nil {
		return err
	}
	zl := logger.Zerolog()
	mc := metrics.NewCollector()

	l, err := ledger.New(params,
		ledger.WithLogger(zl.With().Str("component", "ledger").Logger()),
		ledger.WithMetrics(mc),
	)
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	logger.Info("zolana %s: difficulty %d, reward %s, block time %s", ProtocolVersion, params.Difficulty, params.BaseReward, params.BlockTime)

	p := &producer{
		cfg:    cfg,
		ledger: l,
		miner:  wallet.FromSeed(cfg.MinerSeed),
		log:    logger,
	}
	for _, seed := range cfg.RecipientSeeds {
		p.recipients = append(p.recipients, wallet.FromSeed(seed))
	}
	for _, seed := range cfg.ValidatorSeeds {
		v := wallet.FromSeed(seed)
		if err := l.RegisterValidator(v.Address(), params.Staking.MinStake); err != nil {
			return fmt.Errorf("register validator %s: %w", seed, err)
		}
		p.validators = append(p.validators, v)
		logger.Audit("validator_registered", map[string]any{"address": v.Address(), "stake": params.Staking.MinStake.String()})
	}

	hc := NewHealthChecker(ProtocolVersion.String())
	registerLedgerChecks(hc, l)
	status := &http.Server{
		Addr:              cfg.StatusAddress,
		Handler:           NewStatusServer(l, hc, mc, NewClientRateLimiter(cfg.RateLimitBurst, cfg.RateLimitPerSecond), zl).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	network, relay, err := setupRelay(cfg, l, zl)
	if err != nil {
		return err
	}
	p.network, p.nodeID = network, relay.ID

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("status API listening on %s", cfg.StatusAddress)
		if err := status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return status.Shutdown(shutdownCtx)
	})
	if cfg.RelayAddress != "" {
		if err := relay.Start(); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return relay.Stop(shutdownCtx)
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := network.Deliver(ctx, relay); n > 0 {
					logger.Debug("relayed %d messages", n)
				}
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		return p.run(ctx)
	})

	err = g.Wait()
	printSummary(l, p)
	return err
}

// setupRelay registers this node and its configured peers with the relay and
// makes it follow the ledger's blocks.
func setupRelay(cfg *Config, l *ledger.Ledger, zl zerolog.Logger) (*p2p.Network, *p2p.Node, error) {
	network := p2p.NewNetwork(p2p.WithLogger(zl.With().Str("component", "relay").Logger()))

	host, port := "127.0.0.1", 0
	if cfg.RelayAddress != "" {
		var err error
		if host, port, err = splitEndpoint(cfg.RelayAddress); err != nil {
			return nil, nil, fmt.Errorf("relay_address: %w", err)
		}
	}
	local := network.RegisterNode(host, port)
	for _, peer := range cfg.Peers {
		h, pt, err := splitEndpoint(peer)
		if err != nil {
			return nil, nil, fmt.Errorf("peer %q: %w", peer, err)
		}
		if err := network.ConnectPeers(local, network.RegisterNode(h, pt)); err != nil {
			return nil, nil, fmt.Errorf("peer %q: %w", peer, err)
		}
	}
	network.Follow(l, local)

	node := p2p.NewNode(local, cfg.RelayAddress, zl.With().Str("component", "relay").Logger())
	node.RegisterHandler(p2p.MessageBlock, func(n *p2p.Node, msg p2p.Message) {
		var b chain.Block
		if err := msg.Decode(&b); err != nil {
			zl.Warn().Err(err).Msg("undecodable block from peer")
			return
		}
		zl.Info().Uint64("height", b.Index).Str("hash", b.Hash).Str("from", msg.SenderID).Msg("peer announced block")
	})
	node.RegisterHandler(p2p.MessageTransaction, func(n *p2p.Node, msg p2p.Message) {
		var tx chain.Transaction
		if err := msg.Decode(&tx); err != nil {
			zl.Warn().Err(err).Msg("undecodable transaction from peer")
			return
		}
		if err := l.AddTransaction(tx); err != nil {
			zl.Debug().Err(err).Str("tx", tx.ID).Msg("peer transaction rejected")
		}
	})
	return network, node, nil
}

func splitEndpoint(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

// producer mines blocks, submits demo transfers and runs staking rounds.
type producer struct {
	cfg        *Config
	ledger     *ledger.Ledger
	network    *p2p.Network
	nodeID     string
	miner      *wallet.Wallet
	recipients []*wallet.Wallet
	validators []*wallet.Wallet
	log        *Logger
	mined      int
}

func (p *producer) run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(p.cfg.ProduceIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		b, err := p.ledger.MineBlock(ctx, p.miner.Address())
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ledger.ErrStaleBlock):
			p.log.Warn("%v", err)
			continue
		case err != nil:
			return err
		}
		p.mined++
		p.log.Info("mined block %d (%d txs) %s", b.Index, len(b.Transactions), b.Hash[:16])

		if len(p.recipients) > 0 {
			p.pay(p.recipients[p.mined%len(p.recipients)])
		}
		if p.cfg.PoSEvery > 0 && p.mined%p.cfg.PoSEvery == 0 {
			p.stakingRound()
		}
		if p.cfg.MaxBlocks > 0 && p.mined >= p.cfg.MaxBlocks {
			p.log.Info("produced %d blocks, stopping", p.mined)
			return nil
		}
	}
}

// pay sends one coin to w once the miner can afford it.
func (p *producer) pay(w *wallet.Wallet) {
	fee := p.ledger.Params().DefaultFee
	tx, err := p.ledger.BuildSignedTransaction(p.miner, w.Address(), chain.Coin, fee)
	if err != nil {
		p.log.Debug("transfer skipped: %v", err)
		return
	}
	if err := p.ledger.AddTransaction(tx); err != nil {
		p.log.Warn("transfer rejected: %v", err)
		return
	}
	if err := p.network.PropagateTransaction(tx, p.nodeID); err != nil {
		p.log.Debug("transaction not relayed: %v", err)
	}

	if !p.cfg.ShieldedTransfers {
		return
	}
	stx, err := p.ledger.BuildShieldedTransaction(p.miner.Address(), w.ShieldedAddress(), chain.Coin, p.miner.SpendingKey(), fee)
	if err != nil {
		p.log.Warn("shielded transfer not built: %v", err)
		return
	}
	if err := p.ledger.AddTransaction(stx); err != nil {
		p.log.Warn("shielded transfer rejected: %v", err)
	}
}

// stakingRound offers the next block to each validator in turn; only the
// selected one succeeds.
func (p *producer) stakingRound() {
	for _, v := range p.validators {
		b, err := p.ledger.ValidateBlock(v.Address())
		if errors.Is(err, ledger.ErrValidatorMismatch) {
			continue
		}
		if err != nil {
			p.log.Warn("staking round failed: %v", err)
			return
		}
		p.log.Info("validator %s produced block %d", v.Address(), b.Index)
		p.log.Audit("pos_block", map[string]any{"validator": v.Address(), "height": b.Index, "hash": b.Hash})
		return
	}
}

func printSummary(l *ledger.Ledger, p *producer) {
	title := color.New(color.FgCyan, color.Bold)
	stats := l.Stats()
	ns := l.NetworkStats()
	shielded := l.ShieldedPoolStats()

	title.Println("\n=== Chain summary ===")
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	rows := [][]string{
		{"Height", strconv.FormatUint(stats.Height, 10)},
		{"PoW / PoS blocks", fmt.Sprintf("%d / %d", stats.PoWBlocks, stats.PoSBlocks)},
		{"Transactions (transparent / shielded)", fmt.Sprintf("%d / %d", stats.TransparentTransactions, stats.ShieldedTransactions)},
		{"Circulating supply", stats.CirculatingSupply.String()},
		{"Difficulty", strconv.Itoa(ns.Difficulty)},
		{"Average block time", ns.AverageBlockTime.String()},
		{"Estimated hash rate", fmt.Sprintf("%.0f H/s", ns.HashRate)},
		{"Pending transactions", strconv.Itoa(stats.PendingTransactions)},
		{"Shielded notes / nullifiers", fmt.Sprintf("%d / %d", shielded.Notes, shielded.Nullifiers)},
		{"Validators / total stake", fmt.Sprintf("%d / %s", stats.Validators, stats.TotalStake)},
	}
	for _, r := range rows {
		_ = table.Append(r)
	}
	_ = table.Render()

	title.Println("\n=== Balances ===")
	balances := tablewriter.NewWriter(os.Stdout)
	balances.Header("Wallet", "Address", "Balance")
	_ = balances.Append([]string{"miner", p.miner.Address(), l.Balance(p.miner.Address()).String()})
	for i, w := range p.recipients {
		_ = balances.Append([]string{p.cfg.RecipientSeeds[i], w.Address(), l.Balance(w.Address()).String()})
	}
	_ = balances.Render()

	if err := l.VerifyChain(); err != nil {
		color.Red("chain integrity: %v", err)
		return
	}
	color.Green("chain integrity: ok")
}
