package utils

import (
	"testing"
)

func TestParseParamExpression(t *testing.T) {
	pe, err := ParseParamExpression(DerivedParam{
		Name:       "wind_speed",
		Expression: "(u10 * u10 + v10 * v10) ** 0.5",
		Units:      "m s-1",
	})
	if err != nil {
		t.Fatalf("ParseParamExpression failed: %v", err)
	}
	if len(pe.VarList) != 2 || pe.VarList[0] != "u10" || pe.VarList[1] != "v10" {
		t.Errorf("unexpected variable list: %v", pe.VarList)
	}

	val, err := pe.Evaluate(map[string]float64{"u10": 3, "v10": 4})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if val != 5 {
		t.Errorf("expected 5, got %v", val)
	}
}

func TestParseParamExpressionInvalid(t *testing.T) {
	if _, err := ParseParamExpression(DerivedParam{Name: "bad", Expression: "u10 +* v10"}); err == nil {
		t.Errorf("expected error for malformed expression")
	}
	if _, err := ParseParamExpression(DerivedParam{Name: "const", Expression: "2 + 2"}); err == nil {
		t.Errorf("expected error for expression without variables")
	}
}
