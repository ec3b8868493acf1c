package utils

import (
	"fmt"

	goeval "github.com/edisonguo/govaluate"
)

// ParamExpression is a parsed derived-parameter expression together
// with the list of source variables it reads.
type ParamExpression struct {
	Name       string
	Expression *goeval.EvaluableExpression
	VarList    []string
	ExprText   string
	Units      string
	LongName   string
}

// ParseParamExpression parses the expression of one derived
// parameter and collects its variable references. Only arithmetic,
// comparison and function tokens are allowed.
func ParseParamExpression(param DerivedParam) (*ParamExpression, error) {
	expr, err := goeval.NewEvaluableExpression(param.Expression)
	if err != nil {
		return nil, fmt.Errorf("parsing error in derived parameter %v: %v", param.Name, err)
	}

	varFound := make(map[string]bool)
	var varList []string
	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if !varFound[varName] {
				varFound[varName] = true
				varList = append(varList, varName)
			}
		}
	}

	if len(varList) == 0 {
		return nil, fmt.Errorf("derived parameter %v references no variables", param.Name)
	}

	return &ParamExpression{
		Name:       param.Name,
		Expression: expr,
		VarList:    varList,
		ExprText:   param.Expression,
		Units:      param.Units,
		LongName:   param.LongName,
	}, nil
}

// Evaluate computes the expression for one set of variable values.
func (p *ParamExpression) Evaluate(values map[string]float64) (float64, error) {
	params := make(map[string]interface{}, len(values))
	for name, val := range values {
		params[name] = val
	}
	result, err := p.Expression.Evaluate(params)
	if err != nil {
		return 0, err
	}
	val, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("derived parameter %v evaluated to non-numeric value %v", p.Name, result)
	}
	return val, nil
}
