package rulestore

import (
	"context"
	"fmt"
	"strings"
)

// TargetAccept is the verdict used by all managed forwarding rules.
const TargetAccept = "ACCEPT"

// Rule is a single forwarding rule in a chain. Rules are compared by
// predicate and action, not by identity or position.
type Rule struct {
	// InInterface matches the interface a packet arrived on ("" for any).
	InInterface string

	// OutInterface matches the interface a packet leaves through ("" for any).
	OutInterface string

	// ConnState is an optional connection-tracking state filter,
	// e.g. "ESTABLISHED,RELATED". Empty means stateless match.
	ConnState string

	// Target is the verdict applied on match ("ACCEPT", "DROP", ...).
	Target string

	// Raw holds the original listing text for rules read from the live
	// chain that fall outside the managed in/out/state/target shape.
	// It is ignored by Equal and Spec.
	Raw string
}

// Spec renders the rule as an iptables-style argument list.
func (r Rule) Spec() []string {
	var spec []string
	if r.InInterface != "" {
		spec = append(spec, "-i", r.InInterface)
	}
	if r.OutInterface != "" {
		spec = append(spec, "-o", r.OutInterface)
	}
	if r.ConnState != "" {
		spec = append(spec, "-m", "conntrack", "--ctstate", r.ConnState)
	}
	spec = append(spec, "-j", r.Target)
	return spec
}

// Equal reports whether two rules have the same predicate and action.
func (r Rule) Equal(other Rule) bool {
	return r.InInterface == other.InInterface &&
		r.OutInterface == other.OutInterface &&
		strings.EqualFold(r.ConnState, other.ConnState) &&
		r.Target == other.Target
}

func (r Rule) String() string {
	var b strings.Builder
	if r.InInterface != "" {
		fmt.Fprintf(&b, "in=%s ", r.InInterface)
	}
	if r.OutInterface != "" {
		fmt.Fprintf(&b, "out=%s ", r.OutInterface)
	}
	if r.ConnState != "" {
		fmt.Fprintf(&b, "ctstate=%s ", strings.ToLower(r.ConnState))
	}
	b.WriteString(strings.ToLower(r.Target))
	return b.String()
}

// Store is the interface to an ordered firewall rule chain. The live
// chain is the ground truth: implementations keep no cache across calls.
type Store interface {
	// List returns the current rules of the chain in evaluation order.
	List(ctx context.Context) ([]Rule, error)

	// InsertAt inserts a rule at the given 1-indexed position, shifting
	// rules at or after that position down by one.
	InsertAt(ctx context.Context, pos int, rule Rule) error

	// Delete removes the first rule matching the given predicate and
	// action. A missing rule is not an error: it returns (false, nil).
	Delete(ctx context.Context, rule Rule) (bool, error)

	// Exists reports whether a rule with the same predicate and action
	// is present in the chain.
	Exists(ctx context.Context, rule Rule) (bool, error)

	// Close releases any resources held by the store.
	Close() error
}

// Config contains rule store configuration.
type Config struct {
	// Backend is the firewall backend ("iptables", "nftables" or "memory")
	Backend string

	// Table is the iptables table name
	Table string

	// Chain is the iptables chain name
	Chain string

	// NFTTable is the nftables table spec, e.g. "inet filter"
	NFTTable string

	// NFTChain is the nftables chain name
	NFTChain string
}

// New creates a rule store instance based on the configured backend.
func New(cfg *Config) (Store, error) {
	switch cfg.Backend {
	case "iptables":
		return NewIptablesStore(cfg)
	case "nftables":
		return NewNftablesStore(cfg)
	case "memory":
		return NewMemoryStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown rule store backend: %s", cfg.Backend)
	}
}
