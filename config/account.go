package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/yllada/pvpn/common"
	"gopkg.in/yaml.v3"
)

// PlanTier is the subscription level of an account. The ordering is
// meaningful: a server is visible to an account only when
// server tier <= account tier. Values match the directory API.
type PlanTier int

const (
	TierFree PlanTier = iota
	TierBasic
	TierPlus
	TierVisionary
)

// Tiers lists every plan tier in ascending order.
var Tiers = []PlanTier{TierFree, TierBasic, TierPlus, TierVisionary}

// String returns the display name of the tier.
func (t PlanTier) String() string {
	switch t {
	case TierFree:
		return "Free"
	case TierBasic:
		return "Basic"
	case TierPlus:
		return "Plus"
	case TierVisionary:
		return "Visionary"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Allows reports whether an account on tier t may use a server of tier server.
func (t PlanTier) Allows(server PlanTier) bool {
	return server <= t
}

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (PlanTier, error) {
	for _, t := range Tiers {
		if strings.EqualFold(strings.TrimSpace(s), t.String()) {
			return t, nil
		}
	}
	return TierFree, fmt.Errorf("%w: unknown plan tier %q", common.ErrInvalidInput, s)
}

// MarshalYAML writes the tier by name.
func (t PlanTier) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// UnmarshalYAML reads a tier by name.
func (t *PlanTier) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseTier(node.Value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Protocol is the transport used by OpenVPN. UDP is the default.
type Protocol int

const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
)

// Protocols lists every protocol, default first.
var Protocols = []Protocol{ProtocolUDP, ProtocolTCP}

// String returns the display name of the protocol.
func (p Protocol) String() string {
	switch p {
	case ProtocolUDP:
		return "UDP"
	case ProtocolTCP:
		return "TCP"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// Keyword returns the protocol as written in an OpenVPN config.
func (p Protocol) Keyword() string {
	return strings.ToLower(p.String())
}

// Port returns the remote port for the protocol: 1194 for UDP, 443 for TCP.
func (p Protocol) Port() int {
	if p == ProtocolTCP {
		return common.PortTCP
	}
	return common.PortUDP
}

// ParseProtocol parses "udp" or "tcp", case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "udp":
		return ProtocolUDP, nil
	case "tcp":
		return ProtocolTCP, nil
	default:
		return ProtocolUDP, fmt.Errorf("%w: protocol must be udp or tcp, got %q", common.ErrInvalidInput, s)
	}
}

// MarshalYAML writes the protocol keyword.
func (p Protocol) MarshalYAML() (interface{}, error) {
	return p.Keyword(), nil
}

// UnmarshalYAML reads a protocol keyword.
func (p *Protocol) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseProtocol(node.Value)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Account holds the settings of the single local user.
// The password is never written to the settings file; it lives in the keyring.
type Account struct {
	// Username is the OpenVPN/IKEv2 username of the account.
	Username string `yaml:"username"`
	// Password is the OpenVPN password. Not persisted with the settings.
	Password string `yaml:"-"`
	// Tier is the subscription plan.
	Tier PlanTier `yaml:"tier"`
	// Protocol is the default connection protocol.
	Protocol Protocol `yaml:"protocol"`
	// DNSLeakProtection forces the tunnel's DNS servers.
	DNSLeakProtection bool `yaml:"dns_leak_protection"`
	// CustomDNS replaces the pushed DNS servers when DNS leak protection is on.
	CustomDNS []string `yaml:"custom_dns,omitempty"`
	// SplitTunnel excludes the routes in split_tunnel.txt from the tunnel.
	SplitTunnel bool `yaml:"split_tunnel"`
	// APIBase is the directory API address.
	APIBase string `yaml:"api_base"`
}

// DefaultAccount returns an uninitialized account with default settings.
func DefaultAccount() *Account {
	return &Account{
		Tier:              TierFree,
		Protocol:          ProtocolUDP,
		DNSLeakProtection: true,
		APIBase:           common.DefaultAPIBase,
	}
}

// Validate checks the account fields and normalizes defaults.
func (a *Account) Validate() error {
	if a.APIBase == "" {
		a.APIBase = common.DefaultAPIBase
	}
	if err := validateAPIBase(a.APIBase); err != nil {
		return err
	}
	a.APIBase = strings.TrimRight(a.APIBase, "/")

	if a.Tier < TierFree || a.Tier > TierVisionary {
		return fmt.Errorf("%w: tier %d out of range", common.ErrInvalidSettings, int(a.Tier))
	}
	for _, dns := range a.CustomDNS {
		if ip := net.ParseIP(dns); ip == nil || ip.To4() == nil {
			return fmt.Errorf("%w: custom DNS %q is not an IPv4 address", common.ErrInvalidSettings, dns)
		}
	}
	return nil
}

// DNSServers returns the DNS servers to force into the tunnel, if any.
func (a *Account) DNSServers() []net.IP {
	if !a.DNSLeakProtection {
		return nil
	}
	servers := make([]net.IP, 0, len(a.CustomDNS))
	for _, dns := range a.CustomDNS {
		if ip := net.ParseIP(dns).To4(); ip != nil {
			servers = append(servers, ip)
		}
	}
	return servers
}

// ParseAPIBase parses and validates a directory API address.
func ParseAPIBase(s string) (string, error) {
	s = strings.TrimSpace(s)
	if err := validateAPIBase(s); err != nil {
		return "", err
	}
	return strings.TrimRight(s, "/"), nil
}

// ParseDNSList parses a comma or space separated list of IPv4 addresses.
func ParseDNSList(s string) ([]string, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if ip := net.ParseIP(f); ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("%w: %q is not an IPv4 address", common.ErrInvalidInput, f)
		}
		out = append(out, f)
	}
	return out, nil
}

func validateAPIBase(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: api base %q: %w", common.ErrInvalidSettings, s, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: api base %q must be an http(s) URL", common.ErrInvalidSettings, s)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: api base %q has no host", common.ErrInvalidSettings, s)
	}
	return nil
}
