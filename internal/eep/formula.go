package eep

import (
	"encoding/json"
)

// EvalFormula walks a profile's JSON-encoded formula tree and returns
// the resulting Value, binding {"var":"value"} to raw. Unknown
// operators return raw unchanged rather than erroring: profiles sourced
// from the upstream conversion utility occasionally carry shapes this
// interpreter doesn't recognize, and forward compatibility matters more
// than strictness here.
func EvalFormula(tree json.RawMessage, raw float64) Value {
	if len(tree) == 0 {
		return Number(raw)
	}

	var asNumber float64
	if err := json.Unmarshal(tree, &asNumber); err == nil {
		return Number(asNumber)
	}

	var asString string
	if err := json.Unmarshal(tree, &asString); err == nil {
		return String(asString)
	}

	var node map[string]json.RawMessage
	if err := json.Unmarshal(tree, &node); err != nil || len(node) == 0 {
		return Number(raw)
	}

	if v, ok := node["var"]; ok {
		var name string
		if json.Unmarshal(v, &name) == nil && name == "value" {
			return Number(raw)
		}
		return Number(raw)
	}

	if args, ok := node["+"]; ok {
		return Number(sumArgs(args, raw))
	}
	if args, ok := node["*"]; ok {
		return Number(productArgs(args, raw))
	}
	if args, ok := node["-"]; ok {
		a, b, ok := pairArgs(args, raw)
		if !ok {
			return Number(raw)
		}
		return Number(a - b)
	}
	if args, ok := node["=="]; ok {
		a, b, ok := pairArgs(args, raw)
		if !ok {
			return Number(raw)
		}
		if a == b {
			return Number(1)
		}
		return Number(0)
	}
	if args, ok := node["if"]; ok {
		return evalIf(args, raw)
	}

	// Unknown operator: pass the raw value through unchanged.
	return Number(raw)
}

func sumArgs(raw json.RawMessage, rawValue float64) float64 {
	nodes := decodeArgNodes(raw)
	var sum float64
	for _, n := range nodes {
		sum += EvalFormula(n, rawValue).AsFloat64()
	}
	return sum
}

func productArgs(raw json.RawMessage, rawValue float64) float64 {
	nodes := decodeArgNodes(raw)
	if len(nodes) == 0 {
		return 0
	}
	product := 1.0
	for _, n := range nodes {
		product *= EvalFormula(n, rawValue).AsFloat64()
	}
	return product
}

func pairArgs(raw json.RawMessage, rawValue float64) (float64, float64, bool) {
	nodes := decodeArgNodes(raw)
	if len(nodes) != 2 {
		return 0, 0, false
	}
	return EvalFormula(nodes[0], rawValue).AsFloat64(), EvalFormula(nodes[1], rawValue).AsFloat64(), true
}

func evalIf(raw json.RawMessage, rawValue float64) Value {
	nodes := decodeArgNodes(raw)
	if len(nodes) != 3 {
		return Number(rawValue)
	}
	cond := EvalFormula(nodes[0], rawValue)
	if cond.Truthy() {
		return EvalFormula(nodes[1], rawValue)
	}
	return EvalFormula(nodes[2], rawValue)
}

func decodeArgNodes(raw json.RawMessage) []json.RawMessage {
	var nodes []json.RawMessage
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil
	}
	return nodes
}
