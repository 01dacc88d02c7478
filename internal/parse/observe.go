package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/codeheal/internal/lang"
	"github.com/phobologic/codeheal/internal/model"
)

var logMethods = map[string]struct{}{
	"debug": {}, "info": {}, "warning": {}, "warn": {}, "error": {},
	"exception": {}, "critical": {}, "log": {},
}

var loggerTokens = map[string]struct{}{
	"log": {}, "logs": {}, "logger": {}, "logging": {}, "getlogger": {},
}

// IsLoggingCall reports whether call looks like logger.<level>(...).
func IsLoggingCall(call *sitter.Node, source []byte) bool {
	if call.Type() != "call" {
		return false
	}
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "attribute" {
		return false
	}
	attr := fn.ChildByFieldName("attribute")
	obj := fn.ChildByFieldName("object")
	if attr == nil || obj == nil {
		return false
	}
	if _, ok := logMethods[lang.NodeText(attr, source)]; !ok {
		return false
	}
	return IsLoggerName(lastSegment(lang.NodeText(obj, source)))
}

// IsLoggerName reports whether an identifier reads as a logger, such as
// log, logger, LOG or request_logger.
func IsLoggerName(name string) bool {
	for _, tok := range strings.Split(strings.ToLower(name), "_") {
		if _, ok := loggerTokens[tok]; ok {
			return true
		}
	}
	return false
}

// IsLoggingStatement reports whether st is an expression statement holding
// a logging call.
func IsLoggingStatement(st *sitter.Node, source []byte) bool {
	if st.Type() != "expression_statement" || st.NamedChildCount() != 1 {
		return false
	}
	return IsLoggingCall(st.NamedChild(0), source)
}

func containsLogging(body *sitter.Node, source []byte) bool {
	found := false
	walk(body, func(n *sitter.Node) bool {
		if found {
			return false
		}
		if n.Type() == "call" && IsLoggingCall(n, source) {
			found = true
			return false
		}
		return true
	})
	return found
}

// Branch is one if, elif or else block.
type Branch struct {
	Block  *sitter.Node
	Kind   string
	Line   int
	Logged bool
}

// Branches lists every conditional block under stmts, outer blocks first.
func Branches(stmts []*sitter.Node, source []byte) []Branch {
	var out []Branch
	add := func(kind string, block *sitter.Node) {
		if block == nil {
			return
		}
		b := Branch{Block: block, Kind: kind, Line: int(block.StartPoint().Row) + 1}
		for _, st := range Statements(block) {
			if IsLoggingStatement(st, source) {
				b.Logged = true
				break
			}
		}
		out = append(out, b)
	}
	for _, st := range stmts {
		visitTree(st, func(n *sitter.Node) bool {
			if n.Type() != "if_statement" {
				return true
			}
			add("if", n.ChildByFieldName("consequence"))
			for i := 0; i < int(n.NamedChildCount()); i++ {
				c := n.NamedChild(i)
				switch c.Type() {
				case "elif_clause":
					add("elif", c.ChildByFieldName("consequence"))
				case "else_clause":
					add("else", c.ChildByFieldName("body"))
				}
			}
			return true
		})
	}
	return out
}

// ExitLogged reports whether the final statement guarantees an exit log: a
// try whose finally logs, possibly wrapped in outer try statements.
func ExitLogged(last *sitter.Node, source []byte) bool {
	if last == nil || last.Type() != "try_statement" {
		return false
	}
	for i := 0; i < int(last.NamedChildCount()); i++ {
		c := last.NamedChild(i)
		if c.Type() != "finally_clause" {
			continue
		}
		for j := 0; j < int(c.NamedChildCount()); j++ {
			if block := c.NamedChild(j); block.Type() == "block" {
				for _, st := range Statements(block) {
					if IsLoggingStatement(st, source) {
						return true
					}
				}
			}
		}
	}
	inner := Statements(last.ChildByFieldName("body"))
	if len(inner) == 0 {
		return false
	}
	return ExitLogged(inner[len(inner)-1], source)
}

// Observe computes entry, exit and branch logging coverage.
func Observe(stmts []*sitter.Node, entry int, source []byte) model.Observation {
	var o model.Observation
	for _, st := range stmts[:entry] {
		if IsLoggingStatement(st, source) {
			o.EntryLogged = true
			break
		}
	}
	if entry >= len(stmts) {
		o.ExitLogged = true
	} else {
		o.ExitLogged = ExitLogged(stmts[len(stmts)-1], source)
	}
	for _, b := range Branches(stmts[entry:], source) {
		o.Branches++
		if b.Logged {
			o.BranchesLogged++
		}
	}
	return o
}
