package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

const resultSchema = `{
	"type": "object",
	"required": ["best_label"],
	"properties": {
		"best_label": {"type": ["string", "integer"]},
		"best_score": {"type": "number", "minimum": 0, "maximum": 1},
		"per_label_scores": {
			"type": "object",
			"additionalProperties": {"type": "number"}
		},
		"parsed_fields": {"type": ["object", "null"]}
	}
}`

var compiledResultSchema = mustCompileSchema("classifier_result.json", resultSchema)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// decodeResult validates the reply before mapping it, so a malformed reply
// degrades the same way as an unreachable classifier.
func decodeResult(raw []byte) (domain.ClassifierResult, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.ClassifierResult{}, domain.WrapError(domain.ErrTemporary, "decode classify response", err)
	}
	if err := compiledResultSchema.Validate(v); err != nil {
		return domain.ClassifierResult{}, domain.WrapError(domain.ErrTemporary, "validate classify response", err)
	}

	var wire struct {
		BestLabel      json.RawMessage    `json:"best_label"`
		BestScore      float64            `json:"best_score"`
		PerLabelScores map[string]float64 `json:"per_label_scores"`
		ParsedFields   map[string]any     `json:"parsed_fields"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return domain.ClassifierResult{}, domain.WrapError(domain.ErrTemporary, "decode classify response", err)
	}
	return domain.ClassifierResult{
		BestLabel:    labelString(wire.BestLabel),
		BestScore:    wire.BestScore,
		Scores:       wire.PerLabelScores,
		ParsedFields: wire.ParsedFields,
	}, nil
}

// labelString accepts both "0" and 0 as label encodings.
func labelString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}
