package dynparts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/harvestmcp/harvest/internal/oracle"
)

// MatchInputs removes user-supplied values from the dynamic set. Given the
// dynamic parts of a request, the declared input variables, and the request's
// cURL text, it returns the variables this request uses and the dynamic
// parts that remain after subtracting their values.
//
// An empty input map short-circuits; when the oracle fails, every declared
// variable whose value appears in the request is assumed used.
func (e *Extractor) MatchInputs(ctx context.Context, dynamicParts []string, inputVars map[string]string, curl string) (map[string]string, []string) {
	if len(inputVars) == 0 {
		return map[string]string{}, dynamicParts
	}

	// Only variables textually present in the request can possibly be used
	// by it.
	present := make(map[string]string)
	for name, value := range inputVars {
		if value != "" && strings.Contains(curl, value) {
			present[name] = value
		}
	}
	if len(present) == 0 {
		return map[string]string{}, dynamicParts
	}

	identified, err := e.identifyUsed(ctx, present, curl)
	if err != nil {
		log.Printf("[dynparts] input matching degraded (%s), assuming all present variables are used", oracle.KindOf(err))
		identified = present
	}

	usedValues := make(map[string]bool, len(identified))
	for _, v := range identified {
		usedValues[v] = true
	}
	var remaining []string
	for _, part := range dynamicParts {
		if !usedValues[part] {
			remaining = append(remaining, part)
		}
	}
	return identified, remaining
}

func (e *Extractor) identifyUsed(ctx context.Context, present map[string]string, curl string) (map[string]string, error) {
	var b strings.Builder
	b.WriteString("Request:\n\n")
	b.WriteString(curl)
	b.WriteString("\n\nDeclared input variables whose values appear in this request:\n")
	for name, value := range present {
		fmt.Fprintf(&b, "- %s = %s\n", name, value)
	}
	b.WriteString("\nWhich of these variables does this request actually use?")

	raw, err := e.oracle.CallFunction(ctx, oracle.Request{
		Messages: []oracle.Message{{Role: "user", Content: b.String()}},
		Function: oracle.IdentifyInputVariables(),
	})
	if err != nil {
		return nil, err
	}

	var result oracle.InputVariablesResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode identified variables: %w", err)
	}

	identified := make(map[string]string)
	for _, v := range result.IdentifiedVariables {
		// Only accept names the caller declared; the oracle cannot invent
		// new inputs.
		if declared, ok := present[v.VariableName]; ok && declared == v.VariableValue {
			identified[v.VariableName] = v.VariableValue
		}
	}
	return identified, nil
}
