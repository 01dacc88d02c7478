package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Python is the registered Python language.
var Python *Language

func init() {
	Python = &Language{
		Name:           "python",
		Extensions:     []string{".py", ".pyw"},
		grammar:        python.GetLanguage(),
		EnclosingClass: pythonEnclosingClass,
		EnclosingDef:   pythonEnclosingDef,
		Signature:      pythonSignature,
	}
	register(Python)
}

// pythonEnclosingDef returns the qualified name of the nearest function
// holding node, e.g. "Store.load" or "load".
func pythonEnclosingDef(node *sitter.Node, source []byte) string {
	for current := node.Parent(); current != nil; current = current.Parent() {
		if current.Type() != "function_definition" {
			continue
		}
		name := current.ChildByFieldName("name")
		if name == nil {
			return ""
		}
		if cls := pythonEnclosingClass(current, source); cls != "" {
			return cls + "." + NodeText(name, source)
		}
		return NodeText(name, source)
	}
	return ""
}

// pythonEnclosingClass walks out through class bodies, so a method of
// a nested class yields "Outer.Inner".
func pythonEnclosingClass(funcNode *sitter.Node, source []byte) string {
	var names []string
	node := funcNode
	for {
		cls := pythonClassOf(node)
		if cls == nil {
			break
		}
		if name := cls.ChildByFieldName("name"); name != nil {
			names = append([]string{NodeText(name, source)}, names...)
		}
		node = cls
	}
	return strings.Join(names, ".")
}

// pythonClassOf returns the class whose body directly holds node.
func pythonClassOf(node *sitter.Node) *sitter.Node {
	parent := node.Parent()
	if parent == nil {
		return nil
	}

	// Decorated: def -> decorated_definition -> block -> class_definition
	if parent.Type() == "decorated_definition" {
		parent = parent.Parent()
		if parent == nil {
			return nil
		}
	}

	// Direct: def -> block -> class_definition
	if parent.Type() == "block" && parent.Parent() != nil && parent.Parent().Type() == "class_definition" {
		return parent.Parent()
	}
	return nil
}

func pythonSignature(node *sitter.Node, source []byte) string {
	var name, params, returnType string
	if n := node.ChildByFieldName("name"); n != nil {
		name = NodeText(n, source)
	}
	if p := node.ChildByFieldName("parameters"); p != nil {
		params = CollapseWhitespace(NodeText(p, source))
	}
	if r := node.ChildByFieldName("return_type"); r != nil {
		returnType = NodeText(r, source)
	}
	sig := name + params
	if returnType != "" {
		sig += " -> " + returnType
	}
	return sig
}
