// Package relevance decides whether a query is in-domain before any
// retrieval call is spent on it.
package relevance

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Verdict is the gate's decision for one query.
type Verdict struct {
	// IsRelevant reports whether retrieval should proceed.
	IsRelevant bool `json:"is_relevant"`

	// Reason explains the decision.
	Reason string `json:"reason"`

	// SuggestedResponse is a templated reply for rejected queries,
	// redirecting the user to in-domain topics.
	SuggestedResponse string `json:"suggested_response,omitempty"`
}

// Classifier is the optional second stage: a network-bound LLM check with a
// tenant-specific topic policy.
type Classifier interface {
	Classify(ctx context.Context, query, tenantName string) (Verdict, error)
}

// Default keyword sets, bilingual (English and German) to match the queries
// the deployed widget receives.
var (
	defaultOffTopicKeywords = []string{
		"recipe", "rezept", "cooking", "kochen", "baking", "backen",
		"weather", "wetter", "football", "fußball", "soccer",
		"movie", "film", "song", "lied", "music", "musik",
		"joke", "witz", "game", "spiel", "horoscope", "horoskop",
		"celebrity", "promi", "lottery", "lotto",
	}
	defaultOnTopicKeywords = []string{
		"apartment", "wohnung", "house", "haus", "property", "immobilie",
		"listing", "inserat", "price", "preis", "rent", "miete", "buy",
		"kauf", "sell", "verkauf", "viewing", "besichtigung", "location",
		"lage", "address", "adresse", "company", "unternehmen", "firma",
		"agent", "makler", "financing", "finanzierung", "mortgage",
		"hypothek", "square", "quadratmeter", "room", "zimmer", "balcony",
		"balkon", "garage", "garden", "garten",
	}
)

// Gate is the two-stage relevance check.
//
// Stage one is local and synchronous: keyword membership over the lowercased
// query. Stage two, when a classifier is configured, sends the query to an
// external LLM for a strict JSON verdict. Stage two fails open: a provider
// or parse failure yields IsRelevant=true with the error noted in the
// reason, so a broken classifier never blocks queries.
type Gate struct {
	offTopic   []string
	onTopic    []string
	classifier Classifier
	logger     *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithKeywords overrides the built-in keyword sets. Empty slices keep the
// defaults.
func WithKeywords(offTopic, onTopic []string) Option {
	return func(g *Gate) {
		if len(offTopic) > 0 {
			g.offTopic = lowercaseAll(offTopic)
		}
		if len(onTopic) > 0 {
			g.onTopic = lowercaseAll(onTopic)
		}
	}
}

// WithClassifier enables the second stage.
func WithClassifier(c Classifier) Option {
	return func(g *Gate) {
		g.classifier = c
	}
}

// NewGate creates a Gate with the default bilingual keyword sets.
func NewGate(logger *zap.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		offTopic: defaultOffTopicKeywords,
		onTopic:  defaultOnTopicKeywords,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs both stages and returns the verdict. tenantName personalizes
// the suggested response for rejections.
func (g *Gate) Check(ctx context.Context, query, tenantName string) Verdict {
	verdict := g.keywordCheck(query, tenantName)
	if !verdict.IsRelevant {
		RecordVerdict("keyword_reject")
		return verdict
	}

	if g.classifier == nil {
		RecordVerdict("keyword_pass")
		return verdict
	}

	classified, err := g.classifier.Classify(ctx, query, tenantName)
	if err != nil {
		// Fail open by policy, never propagate classifier errors.
		g.logger.Warn("relevance classifier failed, failing open",
			zap.String("tenant", tenantName),
			zap.Error(err))
		RecordVerdict("classifier_fail_open")
		return Verdict{
			IsRelevant: true,
			Reason:     fmt.Sprintf("classifier validation error, defaulting to relevant: %v", err),
		}
	}

	if classified.IsRelevant {
		RecordVerdict("classifier_pass")
	} else {
		RecordVerdict("classifier_reject")
	}
	return classified
}

// keywordCheck is stage one. A query is rejected only when at least one
// off-topic keyword matches and no on-topic keyword does; anything else
// passes.
func (g *Gate) keywordCheck(query, tenantName string) Verdict {
	lower := strings.ToLower(query)

	offHit := firstMatch(lower, g.offTopic)
	if offHit == "" {
		return Verdict{IsRelevant: true, Reason: "no off-topic keywords matched"}
	}
	if onHit := firstMatch(lower, g.onTopic); onHit != "" {
		return Verdict{
			IsRelevant: true,
			Reason:     fmt.Sprintf("on-topic keyword %q outweighs off-topic keyword %q", onHit, offHit),
		}
	}

	return Verdict{
		IsRelevant: false,
		Reason:     fmt.Sprintf("off-topic keyword %q matched with no on-topic keyword", offHit),
		SuggestedResponse: fmt.Sprintf(
			"I'm the assistant for %s and can only help with questions about our properties and services. "+
				"Feel free to ask me about listings, prices, viewings or the company.",
			tenantName),
	}
}

// firstMatch returns the first keyword contained in the query, or "".
func firstMatch(query string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(query, kw) {
			return kw
		}
	}
	return ""
}

func lowercaseAll(keywords []string) []string {
	out := make([]string, len(keywords))
	for i, kw := range keywords {
		out[i] = strings.ToLower(kw)
	}
	return out
}
