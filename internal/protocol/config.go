package protocol

import (
	"time"

	"github.com/tuborlabs/tyield/internal/errors"
)

// Operation classes subject to rate limiting.
const (
	OpClassOpenTrade    = "open_trade"
	OpClassAdminChange  = "admin_change"
	OpClassYieldUpdate  = "yield_update"
	OpClassBreakerReset = "breaker_reset"
)

// RateLimit bounds the number of admitted calls within a trailing window.
type RateLimit struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// RiskBounds are the configured limits the risk validator enforces.
type RiskBounds struct {
	MinSize uint64 `json:"min_size"`
	MaxSize uint64 `json:"max_size"`
	// Risk/reward ratio bounds in basis points (10000 = 1:1).
	MinRiskRewardBps uint64 `json:"min_risk_reward_bps"`
	MaxRiskRewardBps uint64 `json:"max_risk_reward_bps"`
	// Minimum distance of stop-loss/take-profit from entry, in bps.
	MinLevelDistanceBps uint64 `json:"min_level_distance_bps"`
	// Maximum allowed distance between requested entry and consensus price.
	MaxEntrySlippageBps uint64 `json:"max_entry_slippage_bps"`
}

// OracleBounds gate which price samples the consensus accepts.
type OracleBounds struct {
	MaxStaleness    time.Duration `json:"max_staleness"`
	MaxDeviationBps uint64        `json:"max_deviation_bps"`
	MinFeeds        int           `json:"min_feeds"`
}

// BreakerBounds configure when the circuit breaker trips and how it recovers.
type BreakerBounds struct {
	// Consecutive oracle consensus failures before tripping.
	OracleFailureThreshold int `json:"oracle_failure_threshold"`
	// Trade activity ceiling within ActivityWindow.
	MaxTradesPerWindow   int           `json:"max_trades_per_window"`
	MaxNotionalPerWindow uint64        `json:"max_notional_per_window"`
	ActivityWindow       time.Duration `json:"activity_window"`
	Cooldown             time.Duration `json:"cooldown"`
}

// Config is the singleton protocol configuration. It is created once at
// initialization and mutated exclusively by executed multisig proposals;
// every reader works from a versioned snapshot taken from the store.
type Config struct {
	BuyTaxBps       uint64 `json:"buy_tax_bps"`
	SellTaxBps      uint64 `json:"sell_tax_bps"`
	MaxTaxBps       uint64 `json:"max_tax_bps"`
	YieldRateBps    uint64 `json:"yield_rate_bps"`
	MaxYieldRateBps uint64 `json:"max_yield_rate_bps"`

	Paused bool `json:"paused"`

	Signers       []string      `json:"signers"`
	MinSignatures int           `json:"min_signatures"`
	ProposalTTL   time.Duration `json:"proposal_ttl"`

	BannedActors []string `json:"banned_actors,omitempty"`

	Risk       RiskBounds           `json:"risk"`
	Oracle     OracleBounds         `json:"oracle"`
	Breaker    BreakerBounds        `json:"breaker"`
	RateLimits map[string]RateLimit `json:"rate_limits"`

	InceptionTime time.Time `json:"inception_time"`
}

// ConfigUpdate is the partial-update payload carried by an
// update_protocol_config proposal. Nil fields are left untouched.
type ConfigUpdate struct {
	BuyTaxBps     *uint64              `json:"buy_tax_bps,omitempty"`
	SellTaxBps    *uint64              `json:"sell_tax_bps,omitempty"`
	MinSignatures *int                 `json:"min_signatures,omitempty"`
	Signers       []string             `json:"signers,omitempty"`
	ProposalTTL   *time.Duration       `json:"proposal_ttl,omitempty"`
	Risk          *RiskBounds          `json:"risk,omitempty"`
	Oracle        *OracleBounds        `json:"oracle,omitempty"`
	Breaker       *BreakerBounds       `json:"breaker,omitempty"`
	RateLimits    map[string]RateLimit `json:"rate_limits,omitempty"`
}

const configComponent = "config"

// Validate checks the configuration invariants. It is called on the genesis
// config and again on every proposed update before it is applied.
func (c *Config) Validate() error {
	if c.MaxTaxBps > 10_000 {
		return errors.Validationf(configComponent, "validate", "max_tax_bps", "max tax %d bps exceeds 100%%", c.MaxTaxBps)
	}
	if c.BuyTaxBps > c.MaxTaxBps {
		return errors.Validationf(configComponent, "validate", "buy_tax_bps", "buy tax %d exceeds maximum %d", c.BuyTaxBps, c.MaxTaxBps)
	}
	if c.SellTaxBps > c.MaxTaxBps {
		return errors.Validationf(configComponent, "validate", "sell_tax_bps", "sell tax %d exceeds maximum %d", c.SellTaxBps, c.MaxTaxBps)
	}
	if c.YieldRateBps > c.MaxYieldRateBps {
		return errors.Validationf(configComponent, "validate", "yield_rate_bps", "yield rate %d exceeds maximum %d", c.YieldRateBps, c.MaxYieldRateBps)
	}
	if len(c.Signers) == 0 {
		return errors.Validation(configComponent, "validate", "signers", "at least one signer is required")
	}
	if c.MinSignatures <= 0 || c.MinSignatures > len(c.Signers) {
		return errors.Validationf(configComponent, "validate", "min_signatures",
			"min signatures %d out of range for %d signers", c.MinSignatures, len(c.Signers))
	}
	if seen := duplicateSigner(c.Signers); seen != "" {
		return errors.Validationf(configComponent, "validate", "signers", "duplicate signer %q", seen)
	}
	if c.ProposalTTL <= 0 {
		return errors.Validation(configComponent, "validate", "proposal_ttl", "proposal TTL must be positive")
	}
	if c.Risk.MinSize == 0 || c.Risk.MaxSize < c.Risk.MinSize {
		return errors.Validation(configComponent, "validate", "risk.size", "size bounds must satisfy 0 < min <= max")
	}
	if c.Oracle.MaxStaleness <= 0 {
		return errors.Validation(configComponent, "validate", "oracle.max_staleness", "staleness bound must be positive")
	}
	if c.Oracle.MaxDeviationBps == 0 {
		return errors.Validation(configComponent, "validate", "oracle.max_deviation_bps", "deviation bound must be positive")
	}
	if c.Oracle.MinFeeds <= 0 {
		return errors.Validation(configComponent, "validate", "oracle.min_feeds", "at least one feed is required")
	}
	if c.Breaker.Cooldown <= 0 {
		return errors.Validation(configComponent, "validate", "breaker.cooldown", "cooldown must be positive")
	}
	return nil
}

// Apply merges an update into a copy of the config and validates the result.
func (c Config) Apply(u ConfigUpdate) (Config, error) {
	if u.BuyTaxBps != nil {
		c.BuyTaxBps = *u.BuyTaxBps
	}
	if u.SellTaxBps != nil {
		c.SellTaxBps = *u.SellTaxBps
	}
	if u.MinSignatures != nil {
		c.MinSignatures = *u.MinSignatures
	}
	if len(u.Signers) > 0 {
		c.Signers = append([]string(nil), u.Signers...)
	}
	if u.ProposalTTL != nil {
		c.ProposalTTL = *u.ProposalTTL
	}
	if u.Risk != nil {
		c.Risk = *u.Risk
	}
	if u.Oracle != nil {
		c.Oracle = *u.Oracle
	}
	if u.Breaker != nil {
		c.Breaker = *u.Breaker
	}
	if len(u.RateLimits) > 0 {
		merged := make(map[string]RateLimit, len(c.RateLimits)+len(u.RateLimits))
		for k, v := range c.RateLimits {
			merged[k] = v
		}
		for k, v := range u.RateLimits {
			merged[k] = v
		}
		c.RateLimits = merged
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// IsSigner reports membership in the configured signer set.
func (c *Config) IsSigner(identity string) bool {
	for _, s := range c.Signers {
		if s == identity {
			return true
		}
	}
	return false
}

// IsBanned reports whether an actor is on the blocklist.
func (c *Config) IsBanned(actor string) bool {
	for _, a := range c.BannedActors {
		if a == actor {
			return true
		}
	}
	return false
}

// RateLimitFor returns the window definition for an operation class. A class
// with no definition is unlimited.
func (c *Config) RateLimitFor(class string) (RateLimit, bool) {
	rl, ok := c.RateLimits[class]
	return rl, ok
}

func duplicateSigner(signers []string) string {
	seen := make(map[string]struct{}, len(signers))
	for _, s := range signers {
		if _, dup := seen[s]; dup {
			return s
		}
		seen[s] = struct{}{}
	}
	return ""
}
