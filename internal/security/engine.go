// Package security decides which senders the agent will process. Patterns
// in the block list always win, then the allow list, then the default.
package security

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ciaranashton/relay-agent/internal/config"
)

// Decision is the outcome of a sender check.
type Decision string

const (
	Allow Decision = "allow"
	Block Decision = "block"
)

// Engine matches inbound senders against configured patterns.
type Engine struct {
	defaultPolicy Decision
	logger        *slog.Logger

	blockRe []*regexp.Regexp
	allowRe []*regexp.Regexp
}

func NewEngine(cfg config.SenderConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{defaultPolicy: Allow, logger: logger}
	switch cfg.DefaultPolicy {
	case "", "allow":
	case "deny", "block":
		e.defaultPolicy = Block
	default:
		return nil, fmt.Errorf("invalid sender default policy %q (valid: allow, deny)", cfg.DefaultPolicy)
	}

	var err error
	e.blockRe, err = compilePatterns(cfg.Block)
	if err != nil {
		return nil, fmt.Errorf("invalid block pattern: %w", err)
	}
	e.allowRe, err = compilePatterns(cfg.Allow)
	if err != nil {
		return nil, fmt.Errorf("invalid allow pattern: %w", err)
	}
	return e, nil
}

// Check returns the decision for sender and the pattern that produced it
// ("" when the default applied).
func (e *Engine) Check(sender string) (Decision, string) {
	s := strings.TrimSpace(sender)

	for _, re := range e.blockRe {
		if re.MatchString(s) {
			e.logger.Warn("sender blocked", "from", s, "pattern", re.String())
			return Block, re.String()
		}
	}
	for _, re := range e.allowRe {
		if re.MatchString(s) {
			return Allow, re.String()
		}
	}
	if e.defaultPolicy == Block {
		e.logger.Warn("sender blocked by default policy", "from", s)
	}
	return e.defaultPolicy, ""
}

// Allowed is Check without the matched pattern.
func (e *Engine) Allowed(sender string) bool {
	d, _ := e.Check(sender)
	return d == Allow
}

// Simple strings are converted to case-insensitive substring patterns, so
// "@example.com" matches every address at that domain.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		var re *regexp.Regexp
		var err error
		if isRegex(p) {
			re, err = regexp.Compile(p)
		} else {
			re, err = regexp.Compile(`(?i)` + regexp.QuoteMeta(p))
		}
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func isRegex(s string) bool {
	for _, c := range s {
		switch c {
		case '(', ')', '[', ']', '{', '}', '|', '^', '$', '*', '+', '?', '\\':
			return true
		}
	}
	return false
}
