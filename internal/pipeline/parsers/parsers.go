// Package parsers decodes structured model output for the pipeline. Every
// verdict here follows one rule: a malformed response is an explicit parse
// error, never a silently positive verdict.
package parsers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	errx "github.com/tablepilot-core-poc/server/internal/core/error"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxErrSnippet = 200        // limit error snippet size
)

// fencePattern matches content wrapped in a single markdown code fence, with
// an optional language tag. The inner content is kept verbatim.
var fencePattern = regexp.MustCompile("(?is)^\\s*```[a-z0-9]*\\s*\n?([\\s\\S]*?)\\s*```\\s*$")

// StripFences removes one wrapping markdown code fence when present and
// returns unfenced text unchanged. Backticks inside the content survive.
func StripFences(s string) string {
	if m := fencePattern.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
		return m[1]
	}
	return strings.TrimSpace(s)
}

// ParseBoolWord interprets a single-word true/false verdict. Anything other
// than exactly "true" (after trimming and lowering) is false.
func ParseBoolWord(content string) bool {
	return strings.ToLower(strings.TrimSpace(StripFences(content))) == "true"
}

// ValidatorVerdict is the query validator's structured output.
type ValidatorVerdict struct {
	Valid          bool    `json:"valid"`
	Issues         *string `json:"issues"`
	CorrectedQuery *string `json:"corrected_query"`
}

// ParseValidatorVerdict decodes the validator response. A response that
// cannot be decoded is a hard error; the caller maps it to valid=false.
func ParseValidatorVerdict(content string) (v *ValidatorVerdict, err error) {
	defer recoverParse("validator_verdict", &err)
	v = &ValidatorVerdict{}
	if derr := decodeObject(content, v); derr != nil {
		return nil, errx.WrapParse(derr)
	}
	return v, nil
}

// IntentTable is one table the intent extractor considers relevant.
type IntentTable struct {
	TableName string   `json:"table_name"`
	Columns   []string `json:"columns"`
}

type intentEnvelope struct {
	RelevantTables []IntentTable `json:"relevant_tables"`
}

// ParseIntent decodes the table/column extraction result, preserving the
// model's table order. An empty relevant_tables list is a valid outcome.
func ParseIntent(content string) (tables []string, intent map[string][]string, err error) {
	defer recoverParse("intent", &err)
	var env intentEnvelope
	if derr := decodeObject(content, &env); derr != nil {
		return nil, nil, errx.WrapParse(derr)
	}
	intent = make(map[string][]string, len(env.RelevantTables))
	for _, t := range env.RelevantTables {
		name := strings.TrimSpace(t.TableName)
		if name == "" {
			continue
		}
		if _, ok := intent[name]; !ok {
			tables = append(tables, name)
		}
		intent[name] = append(intent[name], t.Columns...)
	}
	return tables, intent, nil
}

// TransformVerdict is the preprocessing relevance gate's structured output.
type TransformVerdict struct {
	IsRelevant bool    `json:"is_relevant"`
	Issues     *string `json:"issues"`
}

// ParseTransformVerdict decodes the instruction relevance verdict.
func ParseTransformVerdict(content string) (v *TransformVerdict, err error) {
	defer recoverParse("transform_verdict", &err)
	v = &TransformVerdict{}
	if derr := decodeObject(content, v); derr != nil {
		return nil, errx.WrapParse(derr)
	}
	return v, nil
}

// CostEstimate is the risk assessor's advisory model-layer output.
type CostEstimate struct {
	Feasible          bool    `json:"feasible"`
	EstimatedMemoryMB float64 `json:"estimated_memory_mb"`
	EstimatedSeconds  float64 `json:"estimated_seconds"`
	Reason            string  `json:"reason"`
}

// ParseCostEstimate decodes the model-layer cost estimate.
func ParseCostEstimate(content string) (v *CostEstimate, err error) {
	defer recoverParse("cost_estimate", &err)
	v = &CostEstimate{}
	if derr := decodeObject(content, v); derr != nil {
		return nil, errx.WrapParse(derr)
	}
	return v, nil
}

// decodeObject strips fences, guards size and shape, then unmarshals a JSON
// object into v.
func decodeObject(content string, v any) error {
	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "parsers").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}
	s := StripFences(content)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return fmt.Errorf("response is not a JSON object: %q", safeSnippet(s))
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode JSON: %w", err)
	}
	return nil
}

// recoverParse converts a parser panic into an errx-wrapped error.
func recoverParse(component string, err *error) {
	if r := recover(); r != nil {
		logx.Error().Str("component", component).Msgf("panic recovered: %v", r)
		*err = errx.New(fmt.Errorf("%s parser panic", component), http.StatusInternalServerError, errx.SystemErrorMessage)
	}
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
