package vpn

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"

	"github.com/yllada/pvpn/catalog"
	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
)

// Strategy is how a connection target is chosen.
type Strategy int

const (
	StrategyFastest Strategy = iota
	StrategyRandom
	StrategyCountry
	StrategySecureCore
	StrategyP2P
	StrategyTor
	StrategyServer
)

// String returns a human-readable representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyFastest:
		return "fastest"
	case StrategyRandom:
		return "random"
	case StrategyCountry:
		return "country"
	case StrategySecureCore:
		return "secure-core"
	case StrategyP2P:
		return "p2p"
	case StrategyTor:
		return "tor"
	case StrategyServer:
		return "server"
	default:
		return "unknown"
	}
}

// Request is a user's connection request.
type Request struct {
	Strategy Strategy
	// Country is the 2-letter code for StrategyCountry.
	Country string
	// Server is the exact server name for StrategyServer.
	Server string
}

// Fastest requests the best-scoring server.
func Fastest() Request { return Request{Strategy: StrategyFastest} }

// Random requests a uniformly random server.
func Random() Request { return Request{Strategy: StrategyRandom} }

// Country requests the best-scoring server in a country.
func Country(code string) Request { return Request{Strategy: StrategyCountry, Country: code} }

// SecureCore requests the best-scoring Secure-Core server.
func SecureCore() Request { return Request{Strategy: StrategySecureCore} }

// P2P requests the best-scoring P2P server.
func P2P() Request { return Request{Strategy: StrategyP2P} }

// Tor requests the best-scoring Tor server.
func Tor() Request { return Request{Strategy: StrategyTor} }

// Server requests a server by exact name.
func Server(name string) Request { return Request{Strategy: StrategyServer, Server: name} }

// String describes the request for logs and messages.
func (r Request) String() string {
	switch r.Strategy {
	case StrategyCountry:
		return "country " + strings.ToUpper(r.Country)
	case StrategyServer:
		return "server " + r.Server
	default:
		return r.Strategy.String()
	}
}

// ServerSource provides the servers visible to an account.
// *catalog.Catalog satisfies it.
type ServerSource interface {
	Servers(ctx context.Context, account *config.Account) ([]catalog.LogicalServer, error)
}

// Resolver turns a Request into one concrete server.
type Resolver struct {
	source ServerSource
	rng    *rand.Rand
}

// NewResolver returns a Resolver drawing servers from source.
func NewResolver(source ServerSource) *Resolver {
	return &Resolver{
		source: source,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Resolve picks the server for req among those visible to account.
func (r *Resolver) Resolve(ctx context.Context, req Request, account *config.Account) (catalog.LogicalServer, error) {
	servers, err := r.source.Servers(ctx, account)
	if err != nil {
		return catalog.LogicalServer{}, err
	}

	server, err := Select(req, account.Tier, servers, r.rng)
	if err != nil {
		return catalog.LogicalServer{}, err
	}
	common.LogInfo("Resolved %s to %s (score %.2f, load %d%%)", req, server.Name, server.Score, server.Load)
	return server, nil
}

// Select applies req to servers. Tier and status filtering is applied
// here as well, whatever the source already did. rng is only used by
// StrategyRandom and may be nil otherwise.
func Select(req Request, tier config.PlanTier, servers []catalog.LogicalServer, rng *rand.Rand) (catalog.LogicalServer, error) {
	eligible := catalog.Filter(servers, tier)

	switch req.Strategy {
	case StrategyServer:
		for _, s := range eligible {
			if s.Name == req.Server {
				return s, nil
			}
		}
		return catalog.LogicalServer{}, fmt.Errorf("%w: %q", common.ErrNamedServerNotFound, req.Server)

	case StrategyRandom:
		if len(eligible) == 0 {
			return catalog.LogicalServer{}, noMatch(req)
		}
		if rng == nil {
			return eligible[rand.IntN(len(eligible))], nil
		}
		return eligible[rng.IntN(len(eligible))], nil

	case StrategyFastest:
		return fastest(req, eligible)

	case StrategyCountry:
		if len(req.Country) != 2 {
			return catalog.LogicalServer{}, fmt.Errorf("%w: country code must have 2 letters, got %q", common.ErrInvalidInput, req.Country)
		}
		return fastest(req, keep(eligible, func(s catalog.LogicalServer) bool {
			return strings.EqualFold(s.EntryCountry, req.Country) || strings.EqualFold(s.ExitCountry, req.Country)
		}))

	case StrategySecureCore:
		return fastest(req, keep(eligible, IsSecureCore))

	case StrategyP2P:
		return fastest(req, keep(eligible, IsP2P))

	case StrategyTor:
		return fastest(req, keep(eligible, IsTor))

	default:
		return catalog.LogicalServer{}, fmt.Errorf("%w: unknown strategy %d", common.ErrInvalidInput, int(req.Strategy))
	}
}

// fastest returns the server with the lowest score; ties keep catalog order.
func fastest(req Request, servers []catalog.LogicalServer) (catalog.LogicalServer, error) {
	if len(servers) == 0 {
		return catalog.LogicalServer{}, noMatch(req)
	}
	best := servers[0]
	for _, s := range servers[1:] {
		if s.Score < best.Score {
			best = s
		}
	}
	return best, nil
}

func keep(servers []catalog.LogicalServer, pred func(catalog.LogicalServer) bool) []catalog.LogicalServer {
	out := make([]catalog.LogicalServer, 0, len(servers))
	for _, s := range servers {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

func noMatch(req Request) error {
	return fmt.Errorf("%w for %s", common.ErrNoMatchingServer, req)
}

// IsSecureCore reports whether s is a double-hop server, named with an
// entry-exit country pair such as "IS-DE-01" or "CH-US#1". Regional names
// like "US-CA#1" share the shape, so a server whose entry and exit
// countries are known and equal is not double-hop.
func IsSecureCore(s catalog.LogicalServer) bool {
	if s.HasFeature(catalog.FeatureSecureCore) {
		return true
	}
	prefix, _, _ := strings.Cut(s.Name, "#")
	parts := strings.Split(prefix, "-")
	if len(parts) < 2 || !isCountryCode(parts[0]) || !isCountryCode(parts[1]) {
		return false
	}
	return s.EntryCountry == "" || !strings.EqualFold(s.EntryCountry, s.ExitCountry)
}

// IsTor reports whether s routes through Tor ("...-TOR" names).
func IsTor(s catalog.LogicalServer) bool {
	return s.HasFeature(catalog.FeatureTor) || strings.HasSuffix(strings.ToUpper(s.Name), "TOR")
}

// IsP2P reports whether s allows P2P traffic.
func IsP2P(s catalog.LogicalServer) bool {
	return s.HasFeature(catalog.FeatureP2P) || strings.Contains(strings.ToUpper(s.Name), "P2P")
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}
