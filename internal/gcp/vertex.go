package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// DefaultModel is the Gemini model used by every collaborator.
const DefaultModel = "gemini-1.5-pro"

// --- Classifier Model Prompts ---
const ClassifierSystemPrompt = "You are an analyst who reads startup pitch decks. Your task is to group the pages of a deck into sections of a fixed taxonomy. You must output your response as valid JSON."
const ClassifierUserPrompt = `Classify the pages of the pitch deck below into sections.

Use exactly one of these section types per section:
- problem: problem statement or pain points
- solution: product or solution description
- market: market size, opportunity or target market
- business_model: revenue model, pricing or go-to-market
- team: founders, team members or advisors
- traction: metrics, growth or milestones
- financials: current financials, projections, burn rate or runway
- competition: competitive landscape or advantages
- ask: funding ask or use of funds
- unclassified: none of the above

Rules:
1.  Every page number you return must exist in the deck.
2.  A section may span several pages; a type may appear in several sections.
3.  "confidence" is your certainty between 0 and 1.

Respond with JSON in this exact format:
{"sections": [{"type": "problem", "pages": [1, 2], "confidence": 0.9}]}

Pitch deck:
`

// --- Extractor Model Prompts ---
const ExtractorSystemPrompt = "You are a meticulous investment analyst. Your task is to extract facts from one section of a pitch deck. Never guess: a fact that is not stated is null. You must output your response as valid JSON."
const ExtractorUserPrompt = `Extract the fields listed below from the pitch deck section that follows.

Rules:
1.  Use the field names exactly as given. Team members are numbered from 0: "team[0].name", "team[1].title".
2.  Each field is an object {"value": ..., "confidence": 0..1}. Currency fields also carry "currency" as an ISO 4217 code.
3.  Numbers are plain numbers without symbols or thousands separators. Dates are "YYYY-MM-DD".
4.  Use null for anything the section does not state.

Respond with JSON in this exact format:
{"fields": {"company.name": {"value": "Acme", "confidence": 0.9}, "ask.amount": {"value": 2000000, "currency": "USD", "confidence": 0.8}}}
`

// --- Summarizer Model Prompts ---
const SummarizerSystemPrompt = "You are a venture capital associate writing a first-pass investment memo from a pitch deck. Be concise and factual. You must output your response as valid JSON."
const SummarizerUserPrompt = `Summarise the pitch deck below.

Produce:
- "executiveSummary": three to five sentences on what the company does and why it matters.
- "keyHighlights": the most important facts, one short line each.
- "sectionSummaries": one entry per section with "sectionType", "ordinal", "summary" and "confidence".
- "greenFlags": investment strengths supported by the deck.
- "redFlags": risks or gaps an investor should probe.
- "yellowFlags": open questions that are neither strengths nor clear risks.
- "recommendation": one of "strong_pass", "pass", "maybe", "no_pass".
- "riskAssessment": {"market", "execution", "financial", "competitive"}, each "high", "medium" or "low".
- "confidence": your overall certainty between 0 and 1.

Respond with a single JSON object with exactly those keys.

Pitch deck:
`

// VertexClient holds the pre-configured generative models of the pipeline.
type VertexClient struct {
	ClassifierModel *genai.GenerativeModel
	ExtractorModel  *genai.GenerativeModel
	SummarizerModel *genai.GenerativeModel
	baseClient      *genai.Client
}

// NewVertexClient creates a client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexClient{
		ClassifierModel: jsonModel(baseClient, modelName, ClassifierSystemPrompt),
		ExtractorModel:  jsonModel(baseClient, modelName, ExtractorSystemPrompt),
		SummarizerModel: jsonModel(baseClient, modelName, SummarizerSystemPrompt),
		baseClient:      baseClient,
	}, nil
}

// jsonModel configures a model that answers in JSON at temperature zero.
func jsonModel(client *genai.Client, name, systemPrompt string) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return model
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
