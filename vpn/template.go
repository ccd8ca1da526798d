package vpn

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"text/template"

	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
)

// Route is a split-tunnel entry: an IPv4 network that bypasses the tunnel.
type Route struct {
	IP      net.IP
	Netmask net.IP
}

// hostMask is used when an entry has no netmask.
var hostMask = net.IPv4(255, 255, 255, 255).To4()

// String formats the route as "ip netmask", as OpenVPN expects.
func (r Route) String() string {
	return r.IP.String() + " " + r.Netmask.String()
}

// RenderInput is everything the OpenVPN config depends on.
type RenderInput struct {
	Protocol config.Protocol
	// Servers are the entry IPs of the chosen server. Each gets a remote
	// line and openvpn picks among them at random (remote-random).
	Servers []net.IP
	// Ports are the remote ports; normally the single port of Protocol.
	Ports []int
	// Split enables split tunneling with Routes.
	Split  bool
	Routes []Route
	// DNS servers to force when DNS leak protection is on.
	DNS []net.IP
	// CACert and TLSAuth are inlined when set.
	CACert  string
	TLSAuth string
}

// NewRenderInput fills ports from protocol. IPv6 is always disabled.
func NewRenderInput(protocol config.Protocol, servers []net.IP) RenderInput {
	return RenderInput{
		Protocol: protocol,
		Servers:  servers,
		Ports:    []int{protocol.Port()},
	}
}

type templateData struct {
	Protocol     string
	Servers      []string
	Ports        []int
	Split        bool
	Routes       []Route
	DNS          []string
	IPv6Disabled bool
	CACert       string
	TLSAuth      string
}

var openvpnTemplate = template.Must(template.New("openvpn").Option("missingkey=error").Parse(`# Generated by pvpn. Changes are overwritten on every connect.
client
dev tun
proto {{.Protocol}}
{{range $ip := .Servers}}{{range $port := $.Ports}}
remote {{$ip}} {{$port}}{{end}}{{end}}

remote-random
resolv-retry infinite
nobind
cipher AES-256-CBC
auth SHA512
verb 3

tun-mtu 1500
tun-mtu-extra 32
mssfix 1450
persist-key
persist-tun

reneg-sec 0

remote-cert-tls server
auth-user-pass
pull
fast-io
{{if .IPv6Disabled}}
pull-filter ignore "ifconfig-ipv6"
pull-filter ignore "route-ipv6"
{{end}}{{if .DNS}}
pull-filter ignore "dhcp-option DNS"
{{range .DNS}}dhcp-option DNS {{.}}
{{end}}{{end}}{{if .Split}}
{{range .Routes}}route {{.IP}} {{.Netmask}} net_gateway
{{end}}{{end}}{{if .CACert}}
<ca>
{{.CACert}}
</ca>
{{end}}{{if .TLSAuth}}
key-direction 1
<tls-auth>
{{.TLSAuth}}
</tls-auth>
{{end}}`))

// Render produces the OpenVPN client config for in. It does no I/O.
func Render(in RenderInput) (string, error) {
	if len(in.Servers) == 0 {
		return "", fmt.Errorf("%w: no server addresses", common.ErrTemplate)
	}
	if len(in.Ports) == 0 {
		return "", fmt.Errorf("%w: no ports", common.ErrTemplate)
	}

	data := templateData{
		Protocol:     in.Protocol.Keyword(),
		Ports:        in.Ports,
		Split:        in.Split,
		Routes:       in.Routes,
		IPv6Disabled: true,
		CACert:       strings.TrimSpace(in.CACert),
		TLSAuth:      strings.TrimSpace(in.TLSAuth),
	}
	for _, ip := range in.Servers {
		v4 := ip.To4()
		if v4 == nil {
			return "", fmt.Errorf("%w: server address %v is not IPv4", common.ErrTemplate, ip)
		}
		data.Servers = append(data.Servers, v4.String())
	}
	for _, ip := range in.DNS {
		data.DNS = append(data.DNS, ip.String())
	}

	var buf bytes.Buffer
	if err := openvpnTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrTemplate, err)
	}
	return buf.String(), nil
}

// ParseSplitTunnel parses newline-delimited "ip" or "ip/mask" entries.
// The mask is a prefix length or a dotted netmask; without one the entry
// is a host route. Blank lines are skipped. Any malformed line fails the
// whole parse.
func ParseSplitTunnel(text string) ([]Route, error) {
	var routes []Route
	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		route, err := parseRoute(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d %q: %s", common.ErrSplitTunnelParse, lineNo, line, err)
		}
		routes = append(routes, route)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrSplitTunnelParse, err)
	}
	return routes, nil
}

func parseRoute(entry string) (Route, error) {
	fields := strings.Split(entry, "/")
	if len(fields) > 2 {
		return Route{}, fmt.Errorf("expected ip or ip/mask, got %d fields", len(fields))
	}

	ip := net.ParseIP(fields[0]).To4()
	if ip == nil {
		return Route{}, fmt.Errorf("invalid IPv4 address")
	}
	if len(fields) == 1 {
		return Route{IP: ip, Netmask: hostMask}, nil
	}

	mask, err := parseNetmask(fields[1])
	if err != nil {
		return Route{}, err
	}
	return Route{IP: ip, Netmask: mask}, nil
}

func parseNetmask(s string) (net.IP, error) {
	if strings.Contains(s, ".") {
		ip := net.ParseIP(s).To4()
		if ip == nil {
			return nil, fmt.Errorf("invalid netmask")
		}
		if _, bits := net.IPMask(ip).Size(); bits == 0 {
			return nil, fmt.Errorf("netmask %s is not contiguous", s)
		}
		return ip, nil
	}

	prefix, err := strconv.Atoi(s)
	if err != nil || prefix < 0 || prefix > 32 {
		return nil, fmt.Errorf("invalid prefix length")
	}
	return net.IP(net.CIDRMask(prefix, 32)), nil
}
