package expr

import "fmt"

type nodeKind int

const (
	kindConstant nodeKind = iota
	kindInvocation
	kindFunction
	kindArgument
	kindArray
	kindDictionary
)

// Node is a single immutable vertex of a computation graph. Nodes are
// shared freely between graphs; the encoder deduplicates them.
type Node struct {
	kind     nodeKind
	value    interface{}
	function string
	args     map[string]*Node
	items    []*Node
	entries  map[string]*Node
	params   []string
	body     *Node
	name     string
}

// Value is anything that can be encoded into an Expression.
type Value interface {
	Node() *Node
}

// Node returns n; it lets a bare node be used where a Value is expected.
func (n *Node) Node() *Node { return n }

// Constant wraps a JSON-encodable literal.
func Constant(v interface{}) *Node {
	return &Node{kind: kindConstant, value: v}
}

// Invoke calls a server-side algorithm by name. Nil arguments are omitted.
func Invoke(function string, args map[string]Value) *Node {
	n := &Node{
		kind:     kindInvocation,
		function: function,
		args:     make(map[string]*Node, len(args)),
	}
	for name, v := range args {
		if v == nil {
			continue
		}
		if child := v.Node(); child != nil {
			n.args[name] = child
		}
	}
	return n
}

// Array builds an ordered list of values.
func Array(values ...Value) *Node {
	n := &Node{kind: kindArray, items: make([]*Node, 0, len(values))}
	for _, v := range values {
		n.items = append(n.items, v.Node())
	}
	return n
}

// Strings builds an array of string constants.
func Strings(values ...string) *Node {
	items := make([]Value, len(values))
	for i, s := range values {
		items[i] = Constant(s)
	}
	return Array(items...)
}

// Dict builds a keyed set of values.
func Dict(entries map[string]Value) *Node {
	n := &Node{kind: kindDictionary, entries: make(map[string]*Node, len(entries))}
	for k, v := range entries {
		n.entries[k] = v.Node()
	}
	return n
}

// Function builds a one-argument function definition. build receives the
// argument reference and returns the body. The argument is named after the
// nesting depth of the body so nested mapped functions never shadow each
// other and identical lambdas encode identically.
func Function(build func(arg *Node) *Node) *Node {
	arg := &Node{kind: kindArgument}
	body := build(arg)
	arg.name = fmt.Sprintf("_MAPPING_VAR_%d_0", functionDepth(body, make(map[*Node]int)))
	return &Node{kind: kindFunction, params: []string{arg.name}, body: body}
}

// functionDepth returns how many function definitions are nested in n.
func functionDepth(n *Node, memo map[*Node]int) int {
	if n == nil {
		return 0
	}
	if d, ok := memo[n]; ok {
		return d
	}

	depth := 0
	children := n.children()
	for _, child := range children {
		if d := functionDepth(child, memo); d > depth {
			depth = d
		}
	}
	if n.kind == kindFunction {
		depth++
	}
	memo[n] = depth
	return depth
}

func (n *Node) children() []*Node {
	switch n.kind {
	case kindInvocation:
		out := make([]*Node, 0, len(n.args))
		for _, c := range n.args {
			out = append(out, c)
		}
		return out
	case kindArray:
		return n.items
	case kindDictionary:
		out := make([]*Node, 0, len(n.entries))
		for _, c := range n.entries {
			out = append(out, c)
		}
		return out
	case kindFunction:
		return []*Node{n.body}
	}
	return nil
}

// FunctionName returns the invoked algorithm, or "" for other node kinds.
func (n *Node) FunctionName() string {
	if n.kind != kindInvocation {
		return ""
	}
	return n.function
}

// Arg returns the named argument of an invocation node.
func (n *Node) Arg(name string) *Node {
	if n.kind != kindInvocation {
		return nil
	}
	return n.args[name]
}

// Literal returns the value of a constant node.
func (n *Node) Literal() (interface{}, bool) {
	if n.kind != kindConstant {
		return nil, false
	}
	return n.value, true
}
