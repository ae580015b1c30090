package knowledge

import "strings"

// Retrieval topics
const (
	TopicPricing = "pricing"
	TopicPolicy  = "policy"
	TopicGeneral = "general"
)

type fragment struct {
	label   string
	section string
}

type topicRule struct {
	topic     string
	keywords  []string
	fragments []fragment
}

// Rules are evaluated independently and in this order.
var topicRules = []topicRule{
	{
		topic:     TopicPricing,
		keywords:  []string{"price", "pricing", "cost", "plan"},
		fragments: []fragment{{"Pricing Plans: ", SectionPricing}},
	},
	{
		topic:     TopicPolicy,
		keywords:  []string{"policy", "refund", "support"},
		fragments: []fragment{{"Policies: ", SectionPolicies}},
	},
	{
		topic:    TopicGeneral,
		keywords: []string{"feature", "what", "about", "autostream"},
		fragments: []fragment{
			{"Company Info: ", SectionCompany},
			{"Pricing Plans: ", SectionPricing},
		},
	},
}

// Retriever selects knowledge base fragments by keyword
type Retriever struct {
	kb *KnowledgeBase
}

// NewRetriever creates a retriever over an immutable knowledge base
func NewRetriever(kb *KnowledgeBase) *Retriever {
	return &Retriever{kb: kb}
}

// Retrieve returns the context for message, or "" when no keyword matches
func (r *Retriever) Retrieve(message string) string {
	context, _ := r.RetrieveTopics(message)
	return context
}

// RetrieveTopics returns the context and the topics whose keywords matched.
// Fragments are joined by newlines; a fragment whose section is absent is skipped.
func (r *Retriever) RetrieveTopics(message string) (string, []string) {
	lower := strings.ToLower(message)

	var parts []string
	var topics []string
	for _, rule := range topicRules {
		if !containsAny(lower, rule.keywords) {
			continue
		}
		topics = append(topics, rule.topic)
		for _, f := range rule.fragments {
			if r.kb == nil {
				continue
			}
			if text, ok := r.kb.Section(f.section); ok {
				parts = append(parts, f.label+text)
			}
		}
	}

	return strings.Join(parts, "\n"), topics
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
