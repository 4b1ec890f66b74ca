package segment

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		def     string
		wantErr error
	}{
		{name: "canonical", def: `{"logical_operator":"OR","criteria":[{"field":"total_order_value","operator":"gt","value":100}]}`},
		{name: "legacy", def: `{"last_order_date":{"lt":"relative_30"}}`},
		{name: "empty", def: `{}`},
		{name: "open attribute field", def: `{"criteria":[{"field":"tier","operator":"eq","value":"gold"}]}`},
		{name: "relative value on plain field", def: `{"criteria":[{"field":"signup_note","operator":"eq","value":"relative_3"}]}`},
		{name: "not an object", def: `[1,2]`, wantErr: ErrNotObject},
		{name: "unknown logical operator", def: `{"logical_operator":"NOR"}`, wantErr: ErrInvalidLogicalOperator},
		{name: "empty field", def: `{"criteria":[{"field":"","operator":"eq","value":1}]}`, wantErr: ErrInvalidCriterion},
		{name: "unknown operator", def: `{"criteria":[{"field":"order_count","operator":"ne","value":1}]}`, wantErr: ErrInvalidOperator},
		{name: "null value", def: `{"criteria":[{"field":"order_count","operator":"eq","value":null}]}`, wantErr: ErrInvalidValue},
		{name: "missing value", def: `{"criteria":[{"field":"order_count","operator":"eq"}]}`, wantErr: ErrInvalidValue},
		{name: "malformed relative token", def: `{"criteria":[{"field":"last_order_date","operator":"lt","value":"relative_thirty"}]}`, wantErr: ErrInvalidValue},
		{name: "relative eq", def: `{"criteria":[{"field":"last_order_date","operator":"eq","value":"relative_30"}]}`, wantErr: ErrInvalidOperator},
		{name: "malformed legacy entry", def: `{"order_count":5}`, wantErr: ErrInvalidCriterion},
		{name: "criteria not an array", def: `{"criteria":{"field":"x"}}`, wantErr: ErrInvalidCriterion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]byte(tt.def))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestKnownFields(t *testing.T) {
	for _, f := range []string{"email", "total_order_value", FieldLastOrderDate, FieldDaysSinceLastOrder} {
		if !KnownField(f) {
			t.Fatalf("KnownField(%q) = false", f)
		}
	}
	if KnownField("tier") {
		t.Fatalf("KnownField(tier) = true")
	}

	fields := KnownFields()
	for i := 1; i < len(fields); i++ {
		if fields[i-1] > fields[i] {
			t.Fatalf("KnownFields() not sorted: %v", fields)
		}
	}
}
