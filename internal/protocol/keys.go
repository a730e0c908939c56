package protocol

// Store keys. Every entity is addressed by a stable key derived from its
// identity fields.
const (
	ConfigKey  = "protocol/config"
	BreakerKey = "protocol/breaker"

	TradePrefix     = "trade/"
	ProposalPrefix  = "proposal/"
	RateLimitPrefix = "ratelimit/"
)

// TradeKey returns the store key for a trade.
func TradeKey(id string) string {
	return TradePrefix + id
}

// ProposalKey returns the store key for a multisig proposal.
func ProposalKey(id string) string {
	return ProposalPrefix + id
}

// RateLimitKey returns the store key for a rate-limit window. Scope is the
// actor for per-actor classes or "global" for protocol-wide classes.
func RateLimitKey(class, scope string) string {
	if scope == "" {
		scope = "global"
	}
	return RateLimitPrefix + class + "/" + scope
}
