package oracle

import (
	"encoding/json"
	"fmt"
)

// The five function contracts the kernel uses. Schemas are written out as
// raw JSON so they read the same as the wire format; each carries a
// structural validator that the client applies before handing the payload
// back to the caller.

// EndURLResult is the payload of identify_end_url.
type EndURLResult struct {
	URL string `json:"url"`
}

// IdentifyEndURL selects the primary action URL from a candidate list.
func IdentifyEndURL() Function {
	return Function{
		Name:        "identify_end_url",
		Description: "Select the single URL that performs the user's stated goal.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {
					"type": "string",
					"description": "The chosen URL, copied verbatim from the candidate list"
				}
			},
			"required": ["url"]
		}`),
		Validate: func(raw json.RawMessage) error {
			var r EndURLResult
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			if r.URL == "" {
				return fmt.Errorf("url must be non-empty")
			}
			return nil
		},
	}
}

// DynamicPartsResult is the payload of identify_dynamic_parts.
type DynamicPartsResult struct {
	DynamicParts []string `json:"dynamic_parts"`
}

// IdentifyDynamicParts finds server-validated values in one request.
func IdentifyDynamicParts() Function {
	return Function{
		Name:        "identify_dynamic_parts",
		Description: "Return the values (never the keys) of tokens, session IDs, CSRF tokens, API keys, and authentication parameters present in the request. Exclude arbitrary user data.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"dynamic_parts": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Values the server validates for identity or authority"
				}
			},
			"required": ["dynamic_parts"]
		}`),
		Validate: func(raw json.RawMessage) error {
			var r struct {
				DynamicParts *[]string `json:"dynamic_parts"`
			}
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			if r.DynamicParts == nil {
				return fmt.Errorf("dynamic_parts is required")
			}
			return nil
		},
	}
}

// SessionTokensResult is the payload of analyze_session_tokens.
type SessionTokensResult struct {
	PotentialSessionTokens   []string `json:"potentialSessionTokens"`
	AuthenticationParameters []string `json:"authenticationParameters"`
	Confidence               float64  `json:"confidence"`
	Analysis                 string   `json:"analysis"`
}

// AnalyzeSessionTokens distinguishes session-established constants from user
// input among cross-request pattern candidates.
func AnalyzeSessionTokens() Function {
	return Function{
		Name:        "analyze_session_tokens",
		Description: "Given parameter patterns observed across a recorded session, separate session-established tokens from user-supplied values.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"potentialSessionTokens": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Values established by the session (tokens, CSRF, session IDs)"
				},
				"authenticationParameters": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Values used to authenticate requests"
				},
				"confidence": {
					"type": "number",
					"description": "Overall confidence in the split, 0 to 1"
				},
				"analysis": {
					"type": "string",
					"description": "Short rationale"
				}
			},
			"required": ["potentialSessionTokens", "authenticationParameters", "confidence", "analysis"]
		}`),
		Validate: func(raw json.RawMessage) error {
			var r SessionTokensResult
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			if r.Confidence < 0 || r.Confidence > 1 {
				return fmt.Errorf("confidence %v out of range", r.Confidence)
			}
			return nil
		},
	}
}

// IdentifiedVariable is one entry of identify_input_variables.
type IdentifiedVariable struct {
	VariableName  string `json:"variable_name"`
	VariableValue string `json:"variable_value"`
}

// InputVariablesResult is the payload of identify_input_variables.
type InputVariablesResult struct {
	IdentifiedVariables []IdentifiedVariable `json:"identified_variables"`
}

// IdentifyInputVariables decides which declared input variables a request
// actually uses.
func IdentifyInputVariables() Function {
	return Function{
		Name:        "identify_input_variables",
		Description: "Given a request and declared input variables whose values appear in it, return the variables this request actually uses.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"identified_variables": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"variable_name": {"type": "string"},
							"variable_value": {"type": "string"}
						},
						"required": ["variable_name", "variable_value"]
					}
				}
			},
			"required": ["identified_variables"]
		}`),
		Validate: func(raw json.RawMessage) error {
			var r struct {
				IdentifiedVariables *[]IdentifiedVariable `json:"identified_variables"`
			}
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			if r.IdentifiedVariables == nil {
				return fmt.Errorf("identified_variables is required")
			}
			return nil
		},
	}
}

// ClassifiedParameter is one entry of classify_parameters.
type ClassifiedParameter struct {
	ParameterName  string  `json:"parameter_name"`
	ParameterValue string  `json:"parameter_value"`
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
	DomainContext  string  `json:"domain_context,omitempty"`
}

// ClassifyParametersResult is the payload of classify_parameters.
type ClassifyParametersResult struct {
	ClassifiedParameters []ClassifiedParameter `json:"classified_parameters"`
}

var validClassifications = map[string]bool{
	"dynamic":         true,
	"sessionConstant": true,
	"userInput":       true,
	"staticConstant":  true,
	"optional":        true,
}

// ClassifyParameters assigns each low-confidence parameter one of the five
// roles.
func ClassifyParameters() Function {
	return Function{
		Name:        "classify_parameters",
		Description: "Classify request parameters as dynamic, sessionConstant, userInput, staticConstant, or optional.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"classified_parameters": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"parameter_name": {"type": "string"},
							"parameter_value": {"type": "string"},
							"classification": {
								"type": "string",
								"enum": ["dynamic", "sessionConstant", "userInput", "staticConstant", "optional"]
							},
							"confidence": {"type": "number"},
							"reasoning": {"type": "string"},
							"domain_context": {"type": "string"}
						},
						"required": ["parameter_name", "parameter_value", "classification", "confidence", "reasoning"]
					}
				}
			},
			"required": ["classified_parameters"]
		}`),
		Validate: func(raw json.RawMessage) error {
			var r ClassifyParametersResult
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			for _, p := range r.ClassifiedParameters {
				if !validClassifications[p.Classification] {
					return fmt.Errorf("unknown classification %q for %q", p.Classification, p.ParameterName)
				}
				if p.Confidence < 0 || p.Confidence > 1 {
					return fmt.Errorf("confidence %v out of range for %q", p.Confidence, p.ParameterName)
				}
			}
			return nil
		},
	}
}
