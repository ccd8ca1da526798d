// Package settings edits the account settings interactively over a
// line-oriented terminal.
package settings

import (
	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
)

// Editor mutates an account through prompts. It never saves; callers
// persist the account once editing succeeds.
type Editor struct {
	term    Terminal
	account *config.Account
}

// NewEditor returns an editor for account.
func NewEditor(t Terminal, account *config.Account) *Editor {
	return &Editor{term: t, account: account}
}

// Account returns the account being edited.
func (e *Editor) Account() *config.Account {
	return e.account
}

// SetField prompts for a new value of f.
func (e *Editor) SetField(f Field) error {
	if err := f.edit(e.term); err != nil {
		return err
	}
	common.LogDebug("Setting %q updated", f.Name())
	return nil
}

// Initialize sets username, password, tier and protocol in that order.
func (e *Editor) Initialize() error {
	for _, f := range []Field{
		e.UsernameField(),
		e.PasswordField(),
		e.TierField(),
		e.ProtocolField(),
	} {
		if err := e.SetField(f); err != nil {
			return err
		}
	}
	return nil
}

// Configure shows a menu of every field, sets the chosen one and returns it.
func (e *Editor) Configure() (Field, error) {
	fields := e.Fields()
	labels := make([]string, len(fields))
	for i, f := range fields {
		labels[i] = f.Name() + " [" + f.Current() + "]"
	}

	idx, err := choose(e.term, "Setting", labels)
	if err != nil {
		return nil, err
	}
	if err := e.SetField(fields[idx]); err != nil {
		return nil, err
	}
	return fields[idx], nil
}

// Fields lists every editable setting in menu order.
func (e *Editor) Fields() []Field {
	return []Field{
		e.UsernameField(),
		e.PasswordField(),
		e.TierField(),
		e.ProtocolField(),
		e.DNSLeakProtectionField(),
		e.CustomDNSField(),
		e.SplitTunnelField(),
		e.APIBaseField(),
	}
}

func (e *Editor) UsernameField() Field {
	return ValueField[string]{
		Label: "username",
		Parse: String,
		Get:   func() string { return e.account.Username },
		Set:   func(v string) { e.account.Username = v },
	}
}

func (e *Editor) PasswordField() Field {
	return ValueField[string]{
		Label:  "password",
		Secret: true,
		Parse:  String,
		Get:    func() string { return e.account.Password },
		Set:    func(v string) { e.account.Password = v },
	}
}

func (e *Editor) TierField() Field {
	return EnumField[config.PlanTier]{
		Label:   "Plan Tier",
		Options: config.Tiers,
		Get:     func() config.PlanTier { return e.account.Tier },
		Set:     func(v config.PlanTier) { e.account.Tier = v },
	}
}

func (e *Editor) ProtocolField() Field {
	return EnumField[config.Protocol]{
		Label:   "Connection Protocol",
		Options: config.Protocols,
		Get:     func() config.Protocol { return e.account.Protocol },
		Set:     func(v config.Protocol) { e.account.Protocol = v },
	}
}

func (e *Editor) DNSLeakProtectionField() Field {
	return EnumField[bool]{
		Label:   "DNS Leak Protection",
		Options: []bool{true, false},
		Get:     func() bool { return e.account.DNSLeakProtection },
		Set:     func(v bool) { e.account.DNSLeakProtection = v },
	}
}

func (e *Editor) CustomDNSField() Field {
	return ValueField[[]string]{
		Label: "custom DNS servers",
		Parse: config.ParseDNSList,
		Get:   func() []string { return e.account.CustomDNS },
		Set:   func(v []string) { e.account.CustomDNS = v },
	}
}

func (e *Editor) SplitTunnelField() Field {
	return EnumField[bool]{
		Label:   "Split Tunneling",
		Options: []bool{true, false},
		Get:     func() bool { return e.account.SplitTunnel },
		Set:     func(v bool) { e.account.SplitTunnel = v },
	}
}

func (e *Editor) APIBaseField() Field {
	return ValueField[string]{
		Label: "API address",
		Parse: config.ParseAPIBase,
		Get:   func() string { return e.account.APIBase },
		Set:   func(v string) { e.account.APIBase = v },
	}
}
