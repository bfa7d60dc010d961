package rulestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-iptables/iptables"
)

// IptablesStore implements Store using iptables.
type IptablesStore struct {
	ipt   *iptables.IPTables
	table string
	chain string
}

// NewIptablesStore creates a new iptables-backed rule store.
func NewIptablesStore(cfg *Config) (*IptablesStore, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create iptables handler: %w", err)
	}

	return &IptablesStore{
		ipt:   ipt,
		table: cfg.Table,
		chain: cfg.Chain,
	}, nil
}

// List returns the current chain rules in evaluation order.
func (s *IptablesStore) List(ctx context.Context) ([]Rule, error) {
	lines, err := s.ipt.List(s.table, s.chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list chain %s: %w", s.chain, err)
	}

	var rules []Rule
	for _, line := range lines {
		// Skip the chain header emitted by iptables -S.
		if strings.HasPrefix(line, "-P ") || strings.HasPrefix(line, "-N ") {
			continue
		}
		rules = append(rules, ParseRuleSpec(line))
	}

	return rules, nil
}

// InsertAt inserts a rule at the given 1-indexed position.
func (s *IptablesStore) InsertAt(ctx context.Context, pos int, rule Rule) error {
	if err := s.ipt.Insert(s.table, s.chain, pos, rule.Spec()...); err != nil {
		return fmt.Errorf("failed to insert rule at position %d: %w", pos, err)
	}
	return nil
}

// Delete removes the first rule matching the given predicate and action.
// A missing rule returns (false, nil).
func (s *IptablesStore) Delete(ctx context.Context, rule Rule) (bool, error) {
	exists, err := s.ipt.Exists(s.table, s.chain, rule.Spec()...)
	if err != nil {
		return false, fmt.Errorf("failed to check rule: %w", err)
	}
	if !exists {
		return false, nil
	}

	if err := s.ipt.Delete(s.table, s.chain, rule.Spec()...); err != nil {
		return false, fmt.Errorf("failed to delete rule: %w", err)
	}
	return true, nil
}

// Exists reports whether a matching rule is present in the chain.
func (s *IptablesStore) Exists(ctx context.Context, rule Rule) (bool, error) {
	exists, err := s.ipt.Exists(s.table, s.chain, rule.Spec()...)
	if err != nil {
		return false, fmt.Errorf("failed to check rule: %w", err)
	}
	return exists, nil
}

// Close closes the iptables store.
func (s *IptablesStore) Close() error {
	return nil
}

// ParseRuleSpec parses a single iptables -S rule line into a Rule.
// Lines outside the managed in/out/state/target shape keep their
// original text in Raw so listings stay faithful.
func ParseRuleSpec(line string) Rule {
	rule := Rule{Raw: line}
	fields := strings.Fields(line)

	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "-i", "--in-interface":
			if i+1 < len(fields) {
				rule.InInterface = fields[i+1]
				i++
			}
		case "-o", "--out-interface":
			if i+1 < len(fields) {
				rule.OutInterface = fields[i+1]
				i++
			}
		case "--ctstate", "--state":
			if i+1 < len(fields) {
				rule.ConnState = fields[i+1]
				i++
			}
		case "-j", "--jump":
			if i+1 < len(fields) {
				rule.Target = fields[i+1]
				i++
			}
		}
	}

	return rule
}
