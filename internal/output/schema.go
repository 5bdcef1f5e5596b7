package output

import (
	"sort"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// The schema is built fresh on every call: jsonschema-go requires the schema
// graph to be a tree, so subschemas are never shared.

func closed() *jsonschema.Schema { return &jsonschema.Schema{Not: &jsonschema.Schema{}} }

func ptr[T any](v T) *T { return &v }

func object(props map[string]*jsonschema.Schema) *jsonschema.Schema {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	sort.Strings(required)
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: closed(),
	}
}

func str() *jsonschema.Schema         { return &jsonschema.Schema{Type: "string"} }
func nullableStr() *jsonschema.Schema { return &jsonschema.Schema{Types: []string{"string", "null"}} }
func boolean() *jsonschema.Schema     { return &jsonschema.Schema{Type: "boolean"} }
func nonNegInt() *jsonschema.Schema   { return &jsonschema.Schema{Type: "integer", Minimum: ptr(0.0)} }
func strList() *jsonschema.Schema     { return &jsonschema.Schema{Type: "array", Items: str()} }
func unit() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Minimum: ptr(0.0), Maximum: ptr(1.0)}
}
func nullableUnit() *jsonschema.Schema {
	return &jsonschema.Schema{Types: []string{"number", "null"}, Minimum: ptr(0.0), Maximum: ptr(1.0)}
}

func enum[T ~string](values ...T) *jsonschema.Schema {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return &jsonschema.Schema{Type: "string", Enum: out}
}

func nullableEnum[T ~string](values ...T) *jsonschema.Schema {
	out := make([]any, 0, len(values)+1)
	for _, v := range values {
		out = append(out, string(v))
	}
	return &jsonschema.Schema{Types: []string{"string", "null"}, Enum: append(out, nil)}
}

func sectionTypeEnum() *jsonschema.Schema {
	return enum(append(append([]models.SectionType{}, models.SectionTypes...), models.SectionUnclassified)...)
}

func fieldSchema() *jsonschema.Schema {
	return object(map[string]*jsonschema.Schema{
		"name":       str(),
		"type":       enum(models.KindNull, models.KindString, models.KindNumber, models.KindDate, models.KindCurrency),
		"value":      {Types: []string{"null", "string", "number", "object"}},
		"confidence": unit(),
		"source":     nullableStr(),
	})
}

func groupSchema(names ...string) *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(names))
	for _, n := range names {
		props[n] = fieldSchema()
	}
	return object(props)
}

func documentSchema() *jsonschema.Schema {
	return object(map[string]*jsonschema.Schema{
		"id":                 {Type: "string", MinLength: ptr(1)},
		"filename":           str(),
		"format":             enum(models.FormatPDF, models.FormatPPT, models.FormatPPTX),
		"sizeBytes":          nonNegInt(),
		"contentFingerprint": str(),
		"status":             enum(models.StatusQueued, models.StatusProcessing, models.StatusCompleted, models.StatusFailed),
		"overallConfidence":  nullableUnit(),
		"errorDetails":       nullableStr(),
		"cacheHit":           boolean(),
		"resultDocumentId":   str(),
		"queuedAt":           str(),
		"startedAt":          nullableStr(),
		"completedAt":        nullableStr(),
	})
}

func sectionSchema() *jsonschema.Schema {
	return object(map[string]*jsonschema.Schema{
		"sectionType": sectionTypeEnum(),
		"ordinal":     {Type: "integer", Minimum: ptr(1.0)},
		"sourcePages": {Type: "array", Items: &jsonschema.Schema{Type: "integer", Minimum: ptr(1.0)}},
		"confidence":  unit(),
	})
}

func summarySchema() *jsonschema.Schema {
	return object(map[string]*jsonschema.Schema{
		"executiveSummary": nullableStr(),
		"keyHighlights":    strList(),
		"sectionSummaries": {Type: "array", Items: object(map[string]*jsonschema.Schema{
			"sectionType": sectionTypeEnum(),
			"ordinal":     nonNegInt(),
			"summary":     str(),
			"confidence":  unit(),
		})},
		"greenFlags":     strList(),
		"redFlags":       strList(),
		"yellowFlags":    strList(),
		"recommendation": nullableEnum(models.Recommendations...),
		"riskAssessment": object(map[string]*jsonschema.Schema{
			"market":      nullableEnum(models.RiskLevels...),
			"execution":   nullableEnum(models.RiskLevels...),
			"financial":   nullableEnum(models.RiskLevels...),
			"competitive": nullableEnum(models.RiskLevels...),
		}),
		"confidence": unit(),
	})
}

// Schema returns the JSON Schema of the version 1.0 envelope.
func Schema() *jsonschema.Schema {
	stages := append([]models.Stage{models.StageUpload}, models.PipelineStages...)
	stages = append(stages, models.StageExport)

	data := object(map[string]*jsonschema.Schema{
		"document":  documentSchema(),
		"pageCount": nonNegInt(),
		"sections":  {Type: "array", Items: sectionSchema()},
		"extracted": object(map[string]*jsonschema.Schema{
			"company":    groupSchema("name", "founding_date", "location", "industry"),
			"team":       {Type: "array", MaxItems: ptr(models.MaxTeamMembers), Items: groupSchema("name", "title", "background")},
			"financials": groupSchema("revenue", "burn_rate", "runway_months", "funding_raised"),
			"market":     groupSchema("market_size", "target_customer", "growth_rate"),
			"traction":   groupSchema("user_count", "growth_rate", "key_milestones"),
			"ask":        groupSchema("amount", "use_of_funds"),
		}),
		"summary": summarySchema(),
		"confidence": object(map[string]*jsonschema.Schema{
			"overall": unit(),
			"breakdown": object(map[string]*jsonschema.Schema{
				"low":    strList(),
				"medium": strList(),
				"high":   strList(),
			}),
		}),
		"rawText": nullableStr(),
		"warnings": {Type: "array", Items: object(map[string]*jsonschema.Schema{
			"stage":   enum(stages...),
			"code":    str(),
			"message": str(),
		})},
	})

	root := object(map[string]*jsonschema.Schema{
		"schemaVersion":       enum(SchemaVersion),
		"systemVersion":       str(),
		"documentId":          {Type: "string", MinLength: ptr(1)},
		"processingTimestamp": {Type: "string", Format: "date-time"},
		"data":                data,
	})
	root.Schema = "https://json-schema.org/draft/2020-12/schema"
	root.Title = "Pitch deck extraction result"
	return root
}
