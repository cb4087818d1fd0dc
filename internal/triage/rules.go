package triage

import (
	"sort"

	"github.com/spec-kit/support-automation/internal/domain"
)

// Rule maps a set of trigger phrases to a category. Escalating rules send the
// ticket to a human; the rest auto-answer.
type Rule struct {
	Category domain.TicketCategory
	Priority int
	Escalate bool
	Phrases  []string
	// Fallback phrases are too generic to outrank another rule's Phrases and
	// only match when no rule matched on Phrases.
	Fallback []string
}

const (
	priorityEscalate  = 100
	priorityRateLimit = 40
	priorityKeyReset  = 30
	priorityBilling   = 20
	priorityUsage     = 10
)

// DefaultRules returns the production rule table in declaration order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: domain.CategoryEscalatedRefund,
			Priority: priorityEscalate,
			Escalate: true,
			Phrases: []string{
				"refund", "refunds", "refunded", "money back", "chargeback", "charge back",
				"reimburse", "reimbursement", "dispute",
			},
		},
		{
			Category: domain.CategoryEscalatedAnger,
			Priority: priorityEscalate,
			Escalate: true,
			Phrases: []string{
				"scam", "fraud", "rip off", "ripoff", "ridiculous", "unacceptable", "furious",
				"angry", "terrible", "worst", "useless", "lawyer", "sue", "wtf",
				"what the hell", "damn", "shit", "crap", "fuck", "fucking",
			},
		},
		{
			Category: domain.CategoryEscalatedBugReport,
			Priority: priorityEscalate,
			Escalate: true,
			Phrases: []string{
				"bug", "crash", "crashes", "crashed", "broken", "500 error", "internal server error",
				"stack trace", "exception", "regression", "not working", "doesnt work",
				"does not work", "wrong result", "wrong results",
			},
		},
		{
			Category: domain.CategoryEscalatedUnsatisfied,
			Priority: priorityEscalate,
			Escalate: true,
			Phrases: []string{
				"not helpful", "didnt help", "did not help", "still not", "still doesnt",
				"still broken", "unsatisfied", "not satisfied", "human", "real person",
				"speak to someone", "talk to someone", "speak to a person", "manager",
			},
		},
		{
			Category: domain.CategoryRateLimit,
			Priority: priorityRateLimit,
			Phrases: []string{
				"429", "rate limit", "rate limited", "rate limits", "ratelimit",
				"too many requests", "throttled", "throttling", "quota exceeded",
			},
		},
		{
			Category: domain.CategoryKeyReset,
			Priority: priorityKeyReset,
			Phrases: []string{
				"reset key", "reset my key", "reset api key", "reset my api key", "reset the key",
				"reset the api key", "key reset", "rotate", "rotate key", "rotation", "lost my key",
				"lost my api key", "lost key", "new key", "new api key", "regenerate", "leaked",
				"compromised",
			},
			Fallback: []string{"reset", "api key"},
		},
		{
			Category: domain.CategoryBillingInquiry,
			Priority: priorityBilling,
			Phrases: []string{
				"charged", "charge", "charges", "bill", "billing", "billed", "invoice",
				"invoices", "payment", "receipt", "$",
			},
		},
		{
			Category: domain.CategoryUsageInquiry,
			Priority: priorityUsage,
			Phrases: []string{
				"usage", "how many requests", "how many calls", "how many", "calls",
				"requests", "quota", "consumption",
			},
		},
	}
}

// orderRules sorts by priority, highest first, keeping declaration order on ties.
func orderRules(rules []Rule) []Rule {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	return ordered
}
