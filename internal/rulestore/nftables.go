package rulestore

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// NftablesStore implements Store using the nft CLI.
type NftablesStore struct {
	family string
	table  string
	chain  string
	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewNftablesStore creates a new nftables-backed rule store.
func NewNftablesStore(cfg *Config) (*NftablesStore, error) {
	// Check if nft is available
	if _, err := exec.LookPath("nft"); err != nil {
		return nil, fmt.Errorf("nft command not found: %w", err)
	}

	family, table, err := splitNFTTable(cfg.NFTTable)
	if err != nil {
		return nil, err
	}

	return &NftablesStore{
		family: family,
		table:  table,
		chain:  cfg.NFTChain,
		run:    runCommand,
	}, nil
}

// runCommand executes a command and returns its combined output.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("command failed: %s: %w\nOutput: %s",
			strings.Join(append([]string{name}, args...), " "), err, string(output))
	}
	return output, nil
}

// splitNFTTable splits a table spec like "inet filter" into family and name.
func splitNFTTable(spec string) (family, table string, err error) {
	fields := strings.Fields(spec)
	if len(fields) != 2 {
		return "", "", fmt.Errorf("invalid nftables table spec: %q (want \"family name\")", spec)
	}
	return fields[0], fields[1], nil
}

// nftEntry is a chain rule together with its kernel handle.
type nftEntry struct {
	rule   Rule
	handle string
}

// List returns the current chain rules in evaluation order.
func (s *NftablesStore) List(ctx context.Context) ([]Rule, error) {
	entries, err := s.listEntries(ctx)
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(entries))
	for _, e := range entries {
		rules = append(rules, e.rule)
	}
	return rules, nil
}

// listEntries lists chain rules with their handles via `nft -a list chain`.
func (s *NftablesStore) listEntries(ctx context.Context) ([]nftEntry, error) {
	output, err := s.run(ctx, "nft", "-a", "list", "chain", s.family, s.table, s.chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list chain %s: %w", s.chain, err)
	}

	var entries []nftEntry
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)

		// Rule lines carry a trailing "# handle N". Table and chain
		// headers carry one too under -a, so skip them by prefix.
		idx := strings.LastIndex(line, "# handle ")
		if idx < 0 ||
			strings.HasPrefix(line, "table ") ||
			strings.HasPrefix(line, "chain ") ||
			strings.HasPrefix(line, "type ") {
			continue
		}

		handle := strings.TrimSpace(line[idx+len("# handle "):])
		body := strings.TrimSpace(line[:idx])

		entries = append(entries, nftEntry{
			rule:   parseNftRule(body),
			handle: handle,
		})
	}

	return entries, nil
}

// InsertAt inserts a rule at the given 1-indexed position.
func (s *NftablesStore) InsertAt(ctx context.Context, pos int, rule Rule) error {
	tokens, err := nftRuleTokens(rule)
	if err != nil {
		return err
	}

	// `nft insert rule` prepends; anything deeper is anchored to the
	// handle of the rule currently holding the preceding position.
	if pos <= 1 {
		args := append([]string{"insert", "rule", s.family, s.table, s.chain}, tokens...)
		if _, err := s.run(ctx, "nft", args...); err != nil {
			return fmt.Errorf("failed to insert rule: %w", err)
		}
		return nil
	}

	entries, err := s.listEntries(ctx)
	if err != nil {
		return err
	}

	if pos-1 > len(entries) {
		// Position past the end of the chain: append.
		args := append([]string{"add", "rule", s.family, s.table, s.chain}, tokens...)
		if _, err := s.run(ctx, "nft", args...); err != nil {
			return fmt.Errorf("failed to append rule: %w", err)
		}
		return nil
	}

	anchor := entries[pos-2].handle
	args := append([]string{"add", "rule", s.family, s.table, s.chain, "position", anchor}, tokens...)
	if _, err := s.run(ctx, "nft", args...); err != nil {
		return fmt.Errorf("failed to insert rule at position %d: %w", pos, err)
	}
	return nil
}

// Delete removes the first rule matching the given predicate and action.
// A missing rule returns (false, nil).
func (s *NftablesStore) Delete(ctx context.Context, rule Rule) (bool, error) {
	entries, err := s.listEntries(ctx)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		if !e.rule.Equal(rule) {
			continue
		}
		_, err := s.run(ctx, "nft", "delete", "rule", s.family, s.table, s.chain, "handle", e.handle)
		if err != nil {
			return false, fmt.Errorf("failed to delete rule handle %s: %w", e.handle, err)
		}
		return true, nil
	}

	return false, nil
}

// Exists reports whether a matching rule is present in the chain.
func (s *NftablesStore) Exists(ctx context.Context, rule Rule) (bool, error) {
	entries, err := s.listEntries(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.rule.Equal(rule) {
			return true, nil
		}
	}
	return false, nil
}

// Close closes the nftables store.
func (s *NftablesStore) Close() error {
	return nil
}

// nftRuleTokens renders a rule as nft CLI tokens.
func nftRuleTokens(rule Rule) ([]string, error) {
	var tokens []string
	if rule.InInterface != "" {
		tokens = append(tokens, "iifname", rule.InInterface)
	}
	if rule.OutInterface != "" {
		tokens = append(tokens, "oifname", rule.OutInterface)
	}
	if rule.ConnState != "" {
		tokens = append(tokens, "ct", "state", strings.ToLower(rule.ConnState))
	}
	if rule.Target == "" {
		return nil, fmt.Errorf("rule has no target: %s", rule)
	}
	tokens = append(tokens, strings.ToLower(rule.Target))
	return tokens, nil
}

// parseNftRule parses a rule body like
// `iifname "eth1" oifname "ogstun" ct state established,related accept`.
func parseNftRule(body string) Rule {
	rule := Rule{Raw: body}
	fields := strings.Fields(body)

	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "iifname":
			if i+1 < len(fields) {
				rule.InInterface = strings.Trim(fields[i+1], `"`)
				i++
			}
		case "oifname":
			if i+1 < len(fields) {
				rule.OutInterface = strings.Trim(fields[i+1], `"`)
				i++
			}
		case "ct":
			if i+2 < len(fields) && fields[i+1] == "state" {
				rule.ConnState = strings.ToUpper(fields[i+2])
				i += 2
			}
		case "accept", "drop", "reject":
			rule.Target = strings.ToUpper(fields[i])
		}
	}

	return rule
}
