// Package verify submits claims with their gathered evidence to an OpenAI
// reasoning model and post-processes the structured assessment.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/claimcast/internal/claims"
)

// maxFieldChars bounds correctedClaim and aiSummary.
const maxFieldChars = 484

// uncorroboratedCap limits aiConfidence when no evidence provider produced
// a classified result.
const uncorroboratedCap = 0.65

// EvidenceBasis values the model may cite for its verdict.
const (
	BasisFactCheck        = "fact_check_match"
	BasisEconomicData     = "fred_data"
	BasisLegislativeData  = "congress_data"
	BasisGeneralKnowledge = "general_knowledge"
	BasisMixed            = "mixed"
)

// Evidence is everything the providers gathered about one claim.
type Evidence struct {
	FactCheckVerdict    claims.Verdict
	FactCheckConfidence float64
	FactCheckSummary    string
	FactCheckSources    []claims.Source
	Fred                claims.Finding
	Congress            claims.Finding
}

// Classified reports whether any provider produced a result strong enough
// to corroborate the model's confidence.
func (e Evidence) Classified() bool {
	return e.FactCheckVerdict != claims.VerdictUnverified ||
		e.Fred.State == claims.EvidenceMatched ||
		e.Congress.State == claims.EvidenceMatched
}

// Assessment is the model's structured judgement of one claim.
type Assessment struct {
	AIVerdict      claims.Verdict `json:"aiVerdict"`
	AIConfidence   float64        `json:"aiConfidence"`
	CorrectedClaim *string        `json:"correctedClaim"`
	AISummary      *string        `json:"aiSummary"`
	EvidenceBasis  *string        `json:"evidenceBasis"`
}

// Fallback is the safe assessment returned whenever the model cannot be
// consulted or its output cannot be trusted.
func Fallback() Assessment {
	return Assessment{AIVerdict: claims.VerdictUnverified, AIConfidence: 0}
}

// config holds optional configuration for the verifier.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Verifier.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Verifier asks a chat model for a strict-schema claim assessment.
type Verifier struct {
	client oai.Client
	model  string
	hasKey bool
}

// New constructs a Verifier. An empty apiKey is allowed; Assess then always
// returns the fallback assessment.
func New(apiKey, model string, opts ...Option) *Verifier {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Verifier{
		client: oai.NewClient(reqOpts...),
		model:  model,
		hasKey: apiKey != "",
	}
}

const systemPrompt = `You are a fact-checking assistant for live broadcast claims.
Judge the claim strictly against the provided evidence. When the evidence is
insufficient, answer "unverified" with low confidence rather than guessing.
Keep correctedClaim null unless the claim is false or misleading and a short
accurate restatement exists.`

// assessmentSchema is the strict output contract sent with every request.
var assessmentSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"aiVerdict", "aiConfidence", "correctedClaim", "aiSummary", "evidenceBasis"},
	"properties": map[string]any{
		"aiVerdict": map[string]any{
			"type": "string",
			"enum": []string{"true", "false", "misleading", "unverified"},
		},
		"aiConfidence": map[string]any{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
		"correctedClaim": map[string]any{
			"type":      []string{"string", "null"},
			"maxLength": maxFieldChars,
		},
		"aiSummary": map[string]any{
			"type":      []string{"string", "null"},
			"maxLength": maxFieldChars,
		},
		"evidenceBasis": map[string]any{
			"type": []string{"string", "null"},
			"enum": []any{BasisFactCheck, BasisEconomicData, BasisLegislativeData, BasisGeneralKnowledge, BasisMixed, nil},
		},
	},
}

// Assess submits claimText and ev to the model. Every failure mode except
// cancellation degrades to the fallback assessment; cancellation is
// returned as an error so callers can abort the run cleanly.
func (v *Verifier) Assess(ctx context.Context, claimText string, ev Evidence) (Assessment, error) {
	if !v.hasKey || strings.TrimSpace(claimText) == "" {
		return Fallback(), nil
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(v.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(buildUserPrompt(claimText, ev)),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "claim_assessment",
					Strict: oai.Bool(true),
					Schema: assessmentSchema,
				},
			},
		},
	}

	resp, err := v.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Assessment{}, fmt.Errorf("verify: assessment cancelled: %w", err)
		}
		return Fallback(), nil
	}
	if len(resp.Choices) == 0 {
		return Fallback(), nil
	}

	var raw Assessment
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &raw); err != nil {
		return Fallback(), nil
	}
	return Sanitize(raw, ev), nil
}

// Sanitize clamps and validates a raw model assessment against the output
// contract and the gathered evidence.
func Sanitize(a Assessment, ev Evidence) Assessment {
	switch a.AIVerdict {
	case claims.VerdictTrue, claims.VerdictFalse, claims.VerdictMisleading, claims.VerdictUnverified:
	default:
		a.AIVerdict = claims.VerdictUnverified
	}

	if a.AIConfidence < 0 {
		a.AIConfidence = 0
	}
	if a.AIConfidence > 1 {
		a.AIConfidence = 1
	}
	if !ev.Classified() && a.AIConfidence > uncorroboratedCap {
		a.AIConfidence = uncorroboratedCap
	}

	a.CorrectedClaim = truncatePtr(a.CorrectedClaim)
	a.AISummary = truncatePtr(a.AISummary)

	if a.EvidenceBasis != nil {
		switch *a.EvidenceBasis {
		case BasisFactCheck, BasisEconomicData, BasisLegislativeData, BasisGeneralKnowledge, BasisMixed:
		default:
			a.EvidenceBasis = nil
		}
	}
	return a
}

func truncatePtr(s *string) *string {
	if s == nil {
		return nil
	}
	if len(*s) > maxFieldChars {
		t := (*s)[:maxFieldChars]
		return &t
	}
	return s
}

// buildUserPrompt renders the claim and evidence as a compact JSON document
// for the model.
func buildUserPrompt(claimText string, ev Evidence) string {
	doc := map[string]any{
		"claim": claimText,
		"factCheck": map[string]any{
			"verdict":    ev.FactCheckVerdict,
			"confidence": ev.FactCheckConfidence,
			"summary":    ev.FactCheckSummary,
			"sources":    ev.FactCheckSources,
		},
		"economicData": map[string]any{
			"state":   ev.Fred.State,
			"summary": ev.Fred.Summary,
			"sources": ev.Fred.Sources,
		},
		"legislativeData": map[string]any{
			"state":   ev.Congress.State,
			"summary": ev.Congress.Summary,
			"sources": ev.Congress.Sources,
		},
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return claimText
	}
	return string(encoded)
}
