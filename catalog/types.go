// Package catalog fetches, caches, and filters the list of VPN servers
// published by the directory API.
package catalog

import (
	"net"
	"time"

	"github.com/yllada/pvpn/config"
)

// Feature bits published in LogicalServer.Features.
const (
	FeatureSecureCore = 1 << iota
	FeatureTor
	FeatureP2P
)

// StatusUp is the only status value of a usable server.
const StatusUp = 1

// LogicalServer is one VPN destination. It may be backed by several
// physical servers for fail-over.
type LogicalServer struct {
	Name         string           `json:"Name"`
	EntryCountry string           `json:"EntryCountry"`
	ExitCountry  string           `json:"ExitCountry"`
	Domain       string           `json:"Domain"`
	Tier         config.PlanTier  `json:"Tier"`
	Features     int              `json:"Features"`
	City         string           `json:"City,omitempty"`
	ID           string           `json:"ID"`
	Status       int              `json:"Status"`
	Servers      []PhysicalServer `json:"Servers"`
	Load         int              `json:"Load"`
	Score        float64          `json:"Score"`
}

// PhysicalServer is one machine behind a logical server.
type PhysicalServer struct {
	EntryIP net.IP `json:"EntryIP"`
	ExitIP  net.IP `json:"ExitIP"`
	Domain  string `json:"Domain"`
	ID      string `json:"ID"`
	Status  int    `json:"Status"`
}

// Up reports whether the server is marked usable.
func (s LogicalServer) Up() bool {
	return s.Status == StatusUp
}

// HasFeature reports whether the API marks the server with feature bit f.
func (s LogicalServer) HasFeature(f int) bool {
	return s.Features&f != 0
}

// EntryIPs returns the entry address of every physical server, in order.
func (s LogicalServer) EntryIPs() []net.IP {
	ips := make([]net.IP, 0, len(s.Servers))
	for _, p := range s.Servers {
		if p.EntryIP != nil {
			ips = append(ips, p.EntryIP)
		}
	}
	return ips
}

// LogicalsResponse is the body of GET /vpn/logicals.
type LogicalsResponse struct {
	Code           int             `json:"Code"`
	LogicalServers []LogicalServer `json:"LogicalServers"`
}

// Location is the body of GET /vpn/location.
type Location struct {
	IP  string `json:"IP"`
	ISP string `json:"ISP"`
}

// Snapshot is the full server list together with the time it was fetched.
// It is also the on-disk cache format.
type Snapshot struct {
	LastPull time.Time       `json:"LastPull"`
	Servers  []LogicalServer `json:"LogicalServers"`
}

// Stale reports whether the snapshot is older than maxAge at now. A
// LastPull in the future cannot be trusted and is stale too.
func (s *Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if s == nil || s.LastPull.IsZero() || now.Before(s.LastPull) {
		return true
	}
	return now.Sub(s.LastPull) > maxAge
}

// Eligible reports whether server may be offered to an account on tier.
func Eligible(server LogicalServer, tier config.PlanTier) bool {
	return server.Up() && tier.Allows(server.Tier)
}

// Filter returns the servers usable by an account on tier, keeping catalog order.
func Filter(servers []LogicalServer, tier config.PlanTier) []LogicalServer {
	out := make([]LogicalServer, 0, len(servers))
	for _, s := range servers {
		if Eligible(s, tier) {
			out = append(out, s)
		}
	}
	return out
}
