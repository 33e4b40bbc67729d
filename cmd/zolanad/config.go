// config.go - Configuration management for the ledger daemon
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blang/semver/v4"

	"zolana/internal/chain"
	"zolana/internal/consensus"
	"zolana/internal/ledger"
)

// ProtocolVersion is the version of the block and message formats this build
// speaks. Config files written for a different major version are refused.
var ProtocolVersion = semver.MustParse("1.2.0")

// Config represents the daemon configuration
type Config struct {
	ProtocolVersion string `json:"protocol_version"`

	// Protocol settings. Amounts are decimal coin strings such as "0.001".
	Difficulty           int    `json:"difficulty"`
	BlockTimeSeconds     int    `json:"block_time_seconds"`
	BaseReward           string `json:"base_reward"`
	HalvingInterval      uint64 `json:"halving_interval"`
	RetargetInterval     int    `json:"retarget_interval"`
	MaxBlockTransactions int    `json:"max_block_transactions"`
	MempoolSize          int    `json:"mempool_size"`
	DefaultFee           string `json:"default_fee"`

	// Staking
	MinStake            string `json:"min_stake"`
	SlashPenaltyBps     uint64 `json:"slash_penalty_bps"`
	ActivityWindowHours int    `json:"activity_window_hours"`

	// Producer
	MinerSeed         string   `json:"miner_seed"`
	ValidatorSeeds    []string `json:"validator_seeds"`
	RecipientSeeds    []string `json:"recipient_seeds"`
	ProduceIntervalMs int      `json:"produce_interval_ms"`
	MaxBlocks         int      `json:"max_blocks"`
	PoSEvery          int      `json:"pos_every"`
	ShieldedTransfers bool     `json:"shielded_transfers"`

	// Network
	StatusAddress string   `json:"status_address"`
	RelayAddress  string   `json:"relay_address"`
	Peers         []string `json:"peers"`

	// Rate limiting for the status API
	RateLimitBurst     int `json:"rate_limit_burst"`
	RateLimitPerSecond int `json:"rate_limit_per_second"`

	// Logging
	LogLevel     string `json:"log_level"`
	LogFile      string `json:"log_file"`
	EnableAudit  bool   `json:"enable_audit"`
	AuditLogPath string `json:"audit_log_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	params := ledger.DefaultParams()
	return &Config{
		ProtocolVersion:      ProtocolVersion.String(),
		Difficulty:           params.Difficulty,
		BlockTimeSeconds:     int(params.BlockTime / time.Second),
		BaseReward:           params.BaseReward.String(),
		HalvingInterval:      params.HalvingInterval,
		RetargetInterval:     params.RetargetInterval,
		MaxBlockTransactions: params.MaxBlockTransactions,
		MempoolSize:          params.MempoolSize,
		DefaultFee:           params.DefaultFee.String(),
		MinStake:             params.Staking.MinStake.String(),
		SlashPenaltyBps:      params.Staking.SlashPenaltyBps,
		ActivityWindowHours:  int(params.Staking.ActivityWindow / time.Hour),
		MinerSeed:            "miner",
		ValidatorSeeds:       []string{"validator-1", "validator-2"},
		RecipientSeeds:       []string{"alice", "bob"},
		ProduceIntervalMs:    500,
		MaxBlocks:            20,
		PoSEvery:             5,
		ShieldedTransfers:    true,
		StatusAddress:        "127.0.0.1:8545",
		RateLimitBurst:       20,
		RateLimitPerSecond:   10,
		LogLevel:             "info",
		EnableAudit:          false,
		AuditLogPath:         "audit.log",
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		config := DefaultConfig()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate checks producer and network settings and that the protocol
// parameters build a valid ledger.
func (c *Config) Validate() error {
	v, err := semver.Parse(c.ProtocolVersion)
	if err != nil {
		return fmt.Errorf("protocol_version: %w", err)
	}
	if v.Major != ProtocolVersion.Major {
		return fmt.Errorf("protocol_version %s is incompatible with %s", v, ProtocolVersion)
	}
	if c.MinerSeed == "" {
		return errors.New("miner_seed is required")
	}
	if c.ProduceIntervalMs <= 0 {
		return errors.New("produce_interval_ms must be positive")
	}
	if c.MaxBlocks < 0 {
		return errors.New("max_blocks cannot be negative")
	}
	if c.PoSEvery < 0 {
		return errors.New("pos_every cannot be negative")
	}
	if c.RateLimitBurst <= 0 || c.RateLimitPerSecond <= 0 {
		return errors.New("rate limits must be positive")
	}
	_, err = c.LedgerParams()
	return err
}

// LedgerParams converts the protocol section into ledger parameters.
func (c *Config) LedgerParams() (ledger.Params, error) {
	reward, err := chain.ParseAmount(c.BaseReward)
	if err != nil {
		return ledger.Params{}, fmt.Errorf("base_reward: %w", err)
	}
	fee, err := chain.ParseAmount(c.DefaultFee)
	if err != nil {
		return ledger.Params{}, fmt.Errorf("default_fee: %w", err)
	}
	minStake, err := chain.ParseAmount(c.MinStake)
	if err != nil {
		return ledger.Params{}, fmt.Errorf("min_stake: %w", err)
	}
	p := ledger.Params{
		Difficulty:           c.Difficulty,
		BaseReward:           reward,
		BlockTime:            time.Duration(c.BlockTimeSeconds) * time.Second,
		HalvingInterval:      c.HalvingInterval,
		RetargetInterval:     c.RetargetInterval,
		MaxBlockTransactions: c.MaxBlockTransactions,
		MempoolSize:          c.MempoolSize,
		DefaultFee:           fee,
		Staking: consensus.Config{
			MinStake:        minStake,
			SlashPenaltyBps: c.SlashPenaltyBps,
			ActivityWindow:  time.Duration(c.ActivityWindowHours) * time.Hour,
		},
	}
	if err := p.Validate(); err != nil {
		return ledger.Params{}, err
	}
	return p, nil
}
