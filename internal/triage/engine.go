// Package triage classifies support ticket text into an auto-answer or an
// escalation. Classification is deterministic: an ordered rule table over
// normalized text, with escalation as the fallback for anything unmatched.
package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/spec-kit/support-automation/internal/domain"
)

// Action is what the ticket store should do with a decision.
type Action string

const (
	ActionAutoAnswer Action = "AUTO_ANSWER"
	ActionEscalate   Action = "ESCALATE"
)

// Decision is the outcome of triaging one piece of ticket text.
type Decision struct {
	Action   Action
	Category domain.TicketCategory
	// Response is set for auto-answers only.
	Response string
	// Reason explains an escalation for the audit trail.
	Reason string
}

// Escalated reports whether the decision hands the ticket to a human.
func (d Decision) Escalated() bool {
	return d.Action == ActionEscalate
}

// Classification is the pure rule match, before any template data is read.
type Classification struct {
	Category domain.TicketCategory
	Escalate bool
	Phrase   string
}

// UsageReader provides the usage figures quoted in usage and rate limit answers.
type UsageReader interface {
	Summary(ctx context.Context, customerID string) (*domain.UsageSummary, error)
}

// KeyReader lists a customer's keys without secret material.
type KeyReader interface {
	List(ctx context.Context, customerID string) ([]domain.APIKey, error)
}

// InvoiceReader lists a customer's invoices, newest first.
type InvoiceReader interface {
	History(ctx context.Context, customerID string) ([]domain.Invoice, error)
}

// Sources groups the read-only collaborators used to fill response templates.
// A nil reader leaves its section out of the answer.
type Sources struct {
	Usage    UsageReader
	Keys     KeyReader
	Invoices InvoiceReader
}

// Options tunes an Engine.
type Options struct {
	// GraceWindow is quoted in key reset answers.
	GraceWindow time.Duration
	// Rules overrides DefaultRules when non-empty.
	Rules []Rule
}

// Engine is safe for concurrent use; it holds no mutable state.
type Engine struct {
	rules       []Rule
	sources     Sources
	graceWindow time.Duration
}

// New builds an engine over the given data sources.
func New(sources Sources, opts Options) *Engine {
	rules := opts.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{
		rules:       orderRules(rules),
		sources:     sources,
		graceWindow: opts.GraceWindow,
	}
}

// Classify matches subject and body against the rule table.
func (e *Engine) Classify(subject, body string) Classification {
	text := Normalize(subject + " " + body)
	if text == "" {
		return Classification{Category: domain.CategoryEscalatedEmpty, Escalate: true}
	}
	if c, ok := e.match(text, func(r Rule) []string { return r.Phrases }); ok {
		return c
	}
	if c, ok := e.match(text, func(r Rule) []string { return r.Fallback }); ok {
		return c
	}
	return Classification{Category: domain.CategoryEscalatedUnmatched, Escalate: true}
}

func (e *Engine) match(text string, phrases func(Rule) []string) (Classification, bool) {
	for _, rule := range e.rules {
		for _, phrase := range phrases(rule) {
			if containsPhrase(text, phrase) {
				return Classification{Category: rule.Category, Escalate: rule.Escalate, Phrase: phrase}, true
			}
		}
	}
	return Classification{}, false
}

// Decide classifies the text and renders the answer for auto-answerable
// categories. Failing to read template data escalates.
func (e *Engine) Decide(ctx context.Context, customerID, subject, body string) Decision {
	match := e.Classify(subject, body)
	if match.Escalate {
		return escalate(match.Category, escalationReason(match))
	}

	response, err := e.render(ctx, customerID, match.Category)
	if err != nil {
		return escalate(domain.CategoryEscalatedTriageError, fmt.Sprintf("could not build %s answer: %v", match.Category, err))
	}
	return Decision{Action: ActionAutoAnswer, Category: match.Category, Response: response}
}

// Escalate builds the decision used when triage itself could not run.
func Escalate(category domain.TicketCategory, reason string) Decision {
	return escalate(category, reason)
}

func escalate(category domain.TicketCategory, reason string) Decision {
	return Decision{Action: ActionEscalate, Category: category, Reason: reason}
}

func escalationReason(match Classification) string {
	switch match.Category {
	case domain.CategoryEscalatedEmpty:
		return "ticket text is empty"
	case domain.CategoryEscalatedUnmatched:
		return "no triage rule matched"
	default:
		return fmt.Sprintf("matched escalation trigger %q", match.Phrase)
	}
}
