// Package expr builds Earth Engine computation graphs.
//
// Every value in this package is an immutable handle to a server-side
// computation. Chained calls return new handles; nothing is evaluated
// locally. Encode turns a handle into the service's Expression document.
package expr

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Expression is the wire form of a computation graph as accepted by the
// v1 REST API (value:compute, image:export and friends).
type Expression struct {
	Result string               `json:"result"`
	Values map[string]ValueNode `json:"values"`
}

// ValueNode is one node of an Expression. Exactly one field is set.
type ValueNode struct {
	ConstantValue           json.RawMessage     `json:"constantValue,omitempty"`
	ArrayValue              *ArrayValue         `json:"arrayValue,omitempty"`
	DictionaryValue         *DictionaryValue    `json:"dictionaryValue,omitempty"`
	FunctionDefinitionValue *FunctionDefinition `json:"functionDefinitionValue,omitempty"`
	FunctionInvocationValue *FunctionInvocation `json:"functionInvocationValue,omitempty"`
	ArgumentReference       string              `json:"argumentReference,omitempty"`
	ValueReference          string              `json:"valueReference,omitempty"`
}

// ArrayValue holds an ordered list of nodes.
type ArrayValue struct {
	Values []ValueNode `json:"values"`
}

// DictionaryValue holds named nodes.
type DictionaryValue struct {
	Values map[string]ValueNode `json:"values"`
}

// FunctionDefinition is a user-defined function; Body names an entry of
// the enclosing Expression's Values.
type FunctionDefinition struct {
	ArgumentNames []string `json:"argumentNames"`
	Body          string   `json:"body"`
}

// FunctionInvocation calls a named server-side algorithm.
type FunctionInvocation struct {
	FunctionName string               `json:"functionName"`
	Arguments    map[string]ValueNode `json:"arguments"`
}

// kind reports which field of the node is populated.
func (v ValueNode) kind() (string, int) {
	var name string
	n := 0
	if len(v.ConstantValue) > 0 {
		name, n = "constantValue", n+1
	}
	if v.ArrayValue != nil {
		name, n = "arrayValue", n+1
	}
	if v.DictionaryValue != nil {
		name, n = "dictionaryValue", n+1
	}
	if v.FunctionDefinitionValue != nil {
		name, n = "functionDefinitionValue", n+1
	}
	if v.FunctionInvocationValue != nil {
		name, n = "functionInvocationValue", n+1
	}
	if v.ArgumentReference != "" {
		name, n = "argumentReference", n+1
	}
	if v.ValueReference != "" {
		name, n = "valueReference", n+1
	}
	return name, n
}

// Validate checks that every node sets exactly one field and that every
// value reference and function body resolves inside the expression.
func (e *Expression) Validate() error {
	if e.Result == "" {
		return fmt.Errorf("result is required")
	}
	if _, ok := e.Values[e.Result]; !ok {
		return fmt.Errorf("result %q does not name a value", e.Result)
	}

	ids := make([]string, 0, len(e.Values))
	for id := range e.Values {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := e.validateNode(e.Values[id]); err != nil {
			return fmt.Errorf("value %s: %w", id, err)
		}
	}
	return nil
}

func (e *Expression) validateNode(v ValueNode) error {
	name, n := v.kind()
	if n != 1 {
		return fmt.Errorf("node must set exactly one field, got %d", n)
	}

	switch name {
	case "valueReference":
		if _, ok := e.Values[v.ValueReference]; !ok {
			return fmt.Errorf("dangling reference %q", v.ValueReference)
		}
	case "functionDefinitionValue":
		if _, ok := e.Values[v.FunctionDefinitionValue.Body]; !ok {
			return fmt.Errorf("function body %q does not name a value", v.FunctionDefinitionValue.Body)
		}
	case "functionInvocationValue":
		if v.FunctionInvocationValue.FunctionName == "" {
			return fmt.Errorf("function name is required")
		}
		for arg, child := range v.FunctionInvocationValue.Arguments {
			if err := e.validateNode(child); err != nil {
				return fmt.Errorf("argument %s: %w", arg, err)
			}
		}
	case "arrayValue":
		for i, child := range v.ArrayValue.Values {
			if err := e.validateNode(child); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	case "dictionaryValue":
		for key, child := range v.DictionaryValue.Values {
			if err := e.validateNode(child); err != nil {
				return fmt.Errorf("entry %s: %w", key, err)
			}
		}
	}
	return nil
}

// Functions returns the distinct algorithm names invoked by the expression,
// sorted. Used for plan output and tests.
func (e *Expression) Functions() []string {
	seen := make(map[string]bool)
	var walk func(v ValueNode)
	walk = func(v ValueNode) {
		switch {
		case v.FunctionInvocationValue != nil:
			seen[v.FunctionInvocationValue.FunctionName] = true
			for _, child := range v.FunctionInvocationValue.Arguments {
				walk(child)
			}
		case v.ArrayValue != nil:
			for _, child := range v.ArrayValue.Values {
				walk(child)
			}
		case v.DictionaryValue != nil:
			for _, child := range v.DictionaryValue.Values {
				walk(child)
			}
		}
	}
	for _, v := range e.Values {
		walk(v)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
