package lang

import (
	"context"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
)

func TestForPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want *Language
	}{
		{"pkg/store.py", Python},
		{"tool.PY", Python},
		{"gui.pyw", Python},
		{"main.go", nil},
		{"Makefile", nil},
		{"", nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			if got := ForPath(tt.path); got != tt.want {
				t.Errorf("ForPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	py, ok := Lookup("python")
	if !ok || py != Python {
		t.Fatal("python language not registered")
	}
	if _, ok := Lookup("ruby"); ok {
		t.Error("ruby should not be registered")
	}
}

func TestFunctionQuery(t *testing.T) {
	t.Parallel()

	q, err := Python.FunctionQuery()
	if err != nil {
		t.Fatalf("FunctionQuery: %v", err)
	}
	again, _ := Python.FunctionQuery()
	if q == nil || q != again {
		t.Fatal("query should be compiled once and shared")
	}
}

func TestPythonHooks(t *testing.T) {
	t.Parallel()

	source := []byte(`class Outer:
    class Inner:
        def method(self, x: int) -> str:
            def helper():
                pass
            return str(x)

def top(a,
        b):
    pass
`)
	tree, err := Python.NewParser().ParseCtx(context.Background(), nil, source)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	defer tree.Close()

	q, err := Python.FunctionQuery()
	if err != nil {
		t.Fatalf("FunctionQuery: %v", err)
	}

	var sigs, classes, enclosing []string
	for _, def := range captureDefs(q, tree.RootNode()) {
		sigs = append(sigs, Python.Signature(def, source))
		classes = append(classes, Python.EnclosingClass(def, source))
		enclosing = append(enclosing, Python.EnclosingDef(def, source))
	}

	wantSigs := []string{"method(self, x: int) -> str", "helper()", "top(a, b)"}
	wantClasses := []string{"Outer.Inner", "", ""}
	wantEnclosing := []string{"", "Outer.Inner.method", ""}
	for i := range wantSigs {
		if i >= len(sigs) {
			t.Fatalf("got %d definitions, want %d", len(sigs), len(wantSigs))
		}
		if sigs[i] != wantSigs[i] {
			t.Errorf("sig[%d] = %q, want %q", i, sigs[i], wantSigs[i])
		}
		if classes[i] != wantClasses[i] {
			t.Errorf("class[%d] = %q, want %q", i, classes[i], wantClasses[i])
		}
		if enclosing[i] != wantEnclosing[i] {
			t.Errorf("enclosing[%d] = %q, want %q", i, enclosing[i], wantEnclosing[i])
		}
	}
}

func TestCollapseWhitespace(t *testing.T) {
	t.Parallel()

	if got := CollapseWhitespace("  a \n\t b  "); got != "a b" {
		t.Errorf("CollapseWhitespace = %q, want %q", got, "a b")
	}
}

func captureDefs(q *sitter.Query, root *sitter.Node) []*sitter.Node {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	var defs []*sitter.Node
	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range match.Captures {
			if q.CaptureNameForId(c.Index) == "definition.function" {
				defs = append(defs, c.Node)
			}
		}
	}
	return defs
}
