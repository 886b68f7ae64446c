package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{&Error{Kind: KindRateLimited, Msg: "x"}, KindRateLimited},
		{context.Canceled, KindCancelled},
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("boom"), KindUnavailable},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v): expected %q, got %q", tt.err, tt.want, got)
		}
	}
}

func TestDisabledAlwaysFails(t *testing.T) {
	_, err := Disabled.CallFunction(context.Background(), Request{Function: IdentifyEndURL()})
	if KindOf(err) != KindUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestFuncAdapter(t *testing.T) {
	o := Func(func(ctx context.Context, req Request) (json.RawMessage, error) {
		return json.RawMessage(`{"url":"https://x/api"}`), nil
	})
	raw, err := o.CallFunction(context.Background(), Request{Function: IdentifyEndURL()})
	if err != nil {
		t.Fatal(err)
	}
	var r EndURLResult
	if err := json.Unmarshal(raw, &r); err != nil || r.URL != "https://x/api" {
		t.Errorf("unexpected payload %s err=%v", raw, err)
	}
}

func TestSchemaValidators(t *testing.T) {
	tests := []struct {
		name    string
		fn      Function
		payload string
		wantErr bool
	}{
		{"end_url ok", IdentifyEndURL(), `{"url":"https://x"}`, false},
		{"end_url empty", IdentifyEndURL(), `{"url":""}`, true},
		{"dynamic_parts ok", IdentifyDynamicParts(), `{"dynamic_parts":[]}`, false},
		{"dynamic_parts missing", IdentifyDynamicParts(), `{}`, true},
		{"session_tokens ok", AnalyzeSessionTokens(), `{"potentialSessionTokens":["a"],"authenticationParameters":[],"confidence":0.8,"analysis":"x"}`, false},
		{"session_tokens bad confidence", AnalyzeSessionTokens(), `{"potentialSessionTokens":[],"authenticationParameters":[],"confidence":2,"analysis":"x"}`, true},
		{"input_vars ok", IdentifyInputVariables(), `{"identified_variables":[{"variable_name":"q","variable_value":"widgets"}]}`, false},
		{"input_vars missing", IdentifyInputVariables(), `{}`, true},
		{"classify ok", ClassifyParameters(), `{"classified_parameters":[{"parameter_name":"p","parameter_value":"1","classification":"userInput","confidence":0.5,"reasoning":"r"}]}`, false},
		{"classify bad enum", ClassifyParameters(), `{"classified_parameters":[{"parameter_name":"p","parameter_value":"1","classification":"magic","confidence":0.5,"reasoning":"r"}]}`, true},
		{"classify bad confidence", ClassifyParameters(), `{"classified_parameters":[{"parameter_name":"p","parameter_value":"1","classification":"dynamic","confidence":1.5,"reasoning":"r"}]}`, true},
	}
	for _, tt := range tests {
		err := tt.fn.Validate(json.RawMessage(tt.payload))
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: expected error=%v, got %v", tt.name, tt.wantErr, err)
		}
	}
}
