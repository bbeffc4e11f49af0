package expr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Encode serializes v into an Expression. Structurally identical
// invocations and function definitions are emitted once and referenced by
// id. Ids are assigned in pre-order so the result is always "0".
func Encode(v Value) (*Expression, error) {
	if v == nil || v.Node() == nil {
		return nil, fmt.Errorf("cannot encode nil value")
	}

	e := &encoder{
		digests: make(map[*Node]string),
		ids:     make(map[string]string),
		values:  make(map[string]ValueNode),
	}

	root, err := e.store(v.Node())
	if err != nil {
		return nil, err
	}

	return &Expression{Result: root, Values: e.values}, nil
}

// MarshalIndent encodes v and renders it as indented JSON.
func MarshalIndent(v Value) ([]byte, error) {
	expression, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(expression, "", "  ")
}

type encoder struct {
	digests map[*Node]string
	ids     map[string]string
	values  map[string]ValueNode
}

// digest computes a structural hash of n. Children contribute their
// digests, so shared subgraphs are hashed once.
func (e *encoder) digest(n *Node) (string, error) {
	if d, ok := e.digests[n]; ok {
		return d, nil
	}

	var shape interface{}
	switch n.kind {
	case kindConstant:
		raw, err := json.Marshal(n.value)
		if err != nil {
			return "", fmt.Errorf("failed to encode constant %v: %w", n.value, err)
		}
		shape = struct {
			C json.RawMessage
		}{raw}
	case kindArgument:
		shape = struct{ R string }{n.name}
	case kindInvocation:
		args := make(map[string]string, len(n.args))
		for name, child := range n.args {
			d, err := e.digest(child)
			if err != nil {
				return "", err
			}
			args[name] = d
		}
		shape = struct {
			F string
			A map[string]string
		}{n.function, args}
	case kindArray:
		items := make([]string, len(n.items))
		for i, child := range n.items {
			d, err := e.digest(child)
			if err != nil {
				return "", err
			}
			items[i] = d
		}
		shape = struct{ L []string }{items}
	case kindDictionary:
		entries := make(map[string]string, len(n.entries))
		for k, child := range n.entries {
			d, err := e.digest(child)
			if err != nil {
				return "", err
			}
			entries[k] = d
		}
		shape = struct{ D map[string]string }{entries}
	case kindFunction:
		body, err := e.digest(n.body)
		if err != nil {
			return "", err
		}
		shape = struct {
			P []string
			B string
		}{n.params, body}
	default:
		return "", fmt.Errorf("unknown node kind %d", n.kind)
	}

	raw, err := json.Marshal(shape)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	d := hex.EncodeToString(sum[:])
	e.digests[n] = d
	return d, nil
}

// store places n in the values table and returns its id.
func (e *encoder) store(n *Node) (string, error) {
	d, err := e.digest(n)
	if err != nil {
		return "", err
	}
	if id, ok := e.ids[d]; ok {
		return id, nil
	}

	id := strconv.Itoa(len(e.ids))
	e.ids[d] = id

	var v ValueNode
	switch n.kind {
	case kindInvocation:
		v, err = e.invocation(n)
	case kindFunction:
		v, err = e.function(n)
	default:
		v, err = e.inline(n)
	}
	if err != nil {
		return "", err
	}
	e.values[id] = v
	return id, nil
}

// emit returns the node as it appears at a use site: literals inline,
// computations as references.
func (e *encoder) emit(n *Node) (ValueNode, error) {
	switch n.kind {
	case kindInvocation, kindFunction:
		id, err := e.store(n)
		if err != nil {
			return ValueNode{}, err
		}
		return ValueNode{ValueReference: id}, nil
	default:
		return e.inline(n)
	}
}

func (e *encoder) inline(n *Node) (ValueNode, error) {
	switch n.kind {
	case kindConstant:
		raw, err := json.Marshal(n.value)
		if err != nil {
			return ValueNode{}, fmt.Errorf("failed to encode constant %v: %w", n.value, err)
		}
		return ValueNode{ConstantValue: raw}, nil
	case kindArgument:
		return ValueNode{ArgumentReference: n.name}, nil
	case kindArray:
		values := make([]ValueNode, len(n.items))
		for i, child := range n.items {
			v, err := e.emit(child)
			if err != nil {
				return ValueNode{}, err
			}
			values[i] = v
		}
		return ValueNode{ArrayValue: &ArrayValue{Values: values}}, nil
	case kindDictionary:
		values := make(map[string]ValueNode, len(n.entries))
		for _, k := range sortedKeys(n.entries) {
			v, err := e.emit(n.entries[k])
			if err != nil {
				return ValueNode{}, err
			}
			values[k] = v
		}
		return ValueNode{DictionaryValue: &DictionaryValue{Values: values}}, nil
	}
	return ValueNode{}, fmt.Errorf("node kind %d cannot be inlined", n.kind)
}

func (e *encoder) invocation(n *Node) (ValueNode, error) {
	args := make(map[string]ValueNode, len(n.args))
	for _, name := range sortedKeys(n.args) {
		v, err := e.emit(n.args[name])
		if err != nil {
			return ValueNode{}, fmt.Errorf("%s(%s): %w", n.function, name, err)
		}
		args[name] = v
	}
	return ValueNode{FunctionInvocationValue: &FunctionInvocation{
		FunctionName: n.function,
		Arguments:    args,
	}}, nil
}

func (e *encoder) function(n *Node) (ValueNode, error) {
	body, err := e.store(n.body)
	if err != nil {
		return ValueNode{}, err
	}
	return ValueNode{FunctionDefinitionValue: &FunctionDefinition{
		ArgumentNames: n.params,
		Body:          body,
	}}, nil
}

func sortedKeys(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
