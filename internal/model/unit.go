package model

// ParamKind distinguishes ordinary parameters from receivers and splats.
type ParamKind string

const (
	PlainParam    ParamKind = "plain"
	ReceiverParam ParamKind = "receiver"
	ArgsParam     ParamKind = "args"
	KwargsParam   ParamKind = "kwargs"
)

// Param is one declared parameter of a function.
type Param struct {
	Name       string    `json:"name" yaml:"name"`
	Type       string    `json:"type,omitempty" yaml:"type,omitempty"`
	Default    string    `json:"default,omitempty" yaml:"default,omitempty"`
	HasDefault bool      `json:"has_default,omitempty" yaml:"has_default,omitempty"`
	Kind       ParamKind `json:"kind" yaml:"kind"`
}

// Checkable reports whether the parameter can carry an entry guard.
func (p Param) Checkable() bool {
	return p.Kind == PlainParam
}

// RiskKind classifies an operation that can fail at runtime.
type RiskKind string

const (
	RiskArithmetic RiskKind = "arithmetic"
	RiskConversion RiskKind = "conversion"
	RiskIO         RiskKind = "io"
	RiskExternal   RiskKind = "external"
)

// RiskyOp is one failure-prone operation found in a function body.
type RiskyOp struct {
	Kind      RiskKind `json:"kind" yaml:"kind"`
	Text      string   `json:"text" yaml:"text"`
	Line      int      `json:"line" yaml:"line"`
	Statement int      `json:"statement" yaml:"statement"`
	Contained bool     `json:"contained" yaml:"contained"`
}

// BodySummary counts the structural features of a function body.
type BodySummary struct {
	Branches  int       `json:"branches" yaml:"branches"`
	Loops     int       `json:"loops" yaml:"loops"`
	BoolOps   int       `json:"bool_ops" yaml:"bool_ops"`
	CallSites int       `json:"call_sites" yaml:"call_sites"`
	Returns   int       `json:"returns" yaml:"returns"`
	Values    int       `json:"value_returns" yaml:"value_returns"`
	Risky     []RiskyOp `json:"risky_ops,omitempty" yaml:"risky_ops,omitempty"`
}

// Handlers summarizes the except clauses of a function.
type Handlers struct {
	Total    int `json:"total" yaml:"total"`
	Specific int `json:"specific" yaml:"specific"`
}

// Observation records which observability points carry a logging call.
type Observation struct {
	EntryLogged    bool `json:"entry_logged" yaml:"entry_logged"`
	ExitLogged     bool `json:"exit_logged" yaml:"exit_logged"`
	Branches       int  `json:"branches" yaml:"branches"`
	BranchesLogged int  `json:"branches_logged" yaml:"branches_logged"`
}

// FunctionUnit is an immutable structural snapshot of one function. It is
// recomputed after every modification of its file.
type FunctionUnit struct {
	Name          string      `json:"name" yaml:"name"`
	QualifiedName string      `json:"qualified_name" yaml:"qualified_name"`
	Class         string      `json:"class,omitempty" yaml:"class,omitempty"`
	Ordinal       int         `json:"ordinal" yaml:"ordinal"`
	Line          int         `json:"line" yaml:"line"`
	Start         int         `json:"start" yaml:"start"`
	End           int         `json:"end" yaml:"end"`
	Signature     string      `json:"signature" yaml:"signature"`
	Params        []Param     `json:"params,omitempty" yaml:"params,omitempty"`
	ReturnType    string      `json:"return_type,omitempty" yaml:"return_type,omitempty"`
	Docstring     string      `json:"docstring,omitempty" yaml:"docstring,omitempty"`
	GuardedParams []string    `json:"guarded_params,omitempty" yaml:"guarded_params,omitempty"`
	Handlers      Handlers    `json:"handlers" yaml:"handlers"`
	Observation   Observation `json:"observation" yaml:"observation"`
	Body          BodySummary `json:"body" yaml:"body"`

	HasDocstring     bool `json:"has_docstring" yaml:"has_docstring"`
	HasRuntimeChecks bool `json:"has_runtime_checks" yaml:"has_runtime_checks"`
	HasErrorHandling bool `json:"has_error_handling" yaml:"has_error_handling"`
	HasLoggingCalls  bool `json:"has_logging_calls" yaml:"has_logging_calls"`
}

// Key returns the identity used to re-find the unit after its file changes.
func (f FunctionUnit) Key() UnitKey {
	return UnitKey{QualifiedName: f.QualifiedName, Ordinal: f.Ordinal}
}

// CheckableParams returns the parameters eligible for entry guards.
func (f FunctionUnit) CheckableParams() []Param {
	var out []Param
	for _, p := range f.Params {
		if p.Checkable() {
			out = append(out, p)
		}
	}
	return out
}

// Complexity estimates decision density: one plus branches, loops and
// boolean operators.
func (f FunctionUnit) Complexity() int {
	return 1 + f.Body.Branches + f.Body.Loops + f.Body.BoolOps
}

// ReturnsValue reports whether the function returns something other than None.
func (f FunctionUnit) ReturnsValue() bool {
	return f.Body.Values > 0 || (f.ReturnType != "" && f.ReturnType != "None")
}

// ModuleInfo holds file-level facts the healers need.
type ModuleInfo struct {
	ImportsLogging bool     `json:"imports_logging" yaml:"imports_logging"`
	LoggerName     string   `json:"logger_name,omitempty" yaml:"logger_name,omitempty"`
	Imported       []string `json:"imported,omitempty" yaml:"imported,omitempty"`
}

// SourceUnit is one analyzed file. It is recreated on every analysis pass.
type SourceUnit struct {
	Path      string         `json:"path" yaml:"path"`
	Source    []byte         `json:"-" yaml:"-"`
	Module    ModuleInfo     `json:"module" yaml:"module"`
	Functions []FunctionUnit `json:"functions" yaml:"functions"`
}

// Find returns the function identified by key, or nil.
func (s *SourceUnit) Find(key UnitKey) *FunctionUnit {
	for i := range s.Functions {
		if s.Functions[i].Key() == key {
			return &s.Functions[i]
		}
	}
	return nil
}
