package heal

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/codeheal/internal/lang"
	"github.com/phobologic/codeheal/internal/model"
	"github.com/phobologic/codeheal/internal/parse"
	"github.com/phobologic/codeheal/internal/score"
)

func analyze(t *testing.T, pool *parse.Pool, source string) *model.SourceUnit {
	t.Helper()
	src := []byte(source)
	tree, err := pool.Parse(context.Background(), src)
	require.NoError(t, err, "source:\n%s", source)
	defer tree.Close()
	mod := parse.ExtractModule(tree, src)
	units, err := parse.ExtractFunctions(pool.Language(), tree, src, mod, parse.DefaultOptions())
	require.NoError(t, err)
	return &model.SourceUnit{Path: "mem.py", Source: src, Module: mod, Functions: units}
}

func unit(t *testing.T, su *model.SourceUnit, qualified string) model.FunctionUnit {
	t.Helper()
	for _, f := range su.Functions {
		if f.QualifiedName == qualified {
			return f
		}
	}
	t.Fatalf("unit %q not found", qualified)
	return model.FunctionUnit{}
}

func splice(t *testing.T, source string, m *model.Modification) string {
	t.Helper()
	require.Equal(t, m.Original, source[m.Start:m.End], "stale modification")
	return source[:m.Start] + m.Replacement + source[m.End:]
}

func newHealer(opts Options) (*Healer, *parse.Pool) {
	pool := parse.NewPool(lang.Python)
	return New(pool, opts), pool
}

func TestDivValidation(t *testing.T) {
	t.Parallel()

	h, pool := newHealer(DefaultOptions())
	source := "def div(a, b):\n    return a / b\n"
	su := analyze(t, pool, source)

	m, err := h.For(model.Validation).Generate(context.Background(), su, unit(t, su, "div"))
	require.NoError(t, err)
	require.NotNil(t, m)

	want := `def div(a, b):
    if not isinstance(a, (int, float)):
        raise TypeError(f"a must be a number, got {type(a).__name__}")
    if not isinstance(b, (int, float)):
        raise TypeError(f"b must be a number, got {type(b).__name__}")
    return a / b
`
	assert.Equal(t, want, splice(t, source, m))
	assert.Equal(t, "guard a, b", m.Summary)
	assert.Equal(t, model.Validation, m.Dimension)
}

func TestDivEndToEnd(t *testing.T) {
	t.Parallel()

	h, pool := newHealer(DefaultOptions())
	source := "def div(a, b):\n    return a / b\n"
	before := score.Score(unit(t, analyze(t, pool, source), "div"), score.DefaultOptions())
	assert.Equal(t, 0.0, before.Care)

	for _, dim := range []model.Dimension{model.Validation, model.Resilience, model.Observability, model.Care} {
		su := analyze(t, pool, source)
		m, err := h.For(dim).Generate(context.Background(), su, unit(t, su, "div"))
		require.NoError(t, err, dim.String())
		require.NotNil(t, m, dim.String())
		source = splice(t, source, m)
		require.True(t, pool.Valid(context.Background(), []byte(source)), "%s produced invalid source:\n%s", dim, source)
	}

	fn := unit(t, analyze(t, pool, source), "div")
	after := score.Score(fn, score.DefaultOptions())
	for _, d := range model.AllDimensions() {
		assert.Equal(t, 1.0, after.Score(d), "%s after healing:\n%s", d, source)
	}
	assert.Equal(t, 1.0, after.Harmony())
	assert.Contains(t, source, "except ArithmeticError:")
	assert.Contains(t, source, `"""Handle the div operation.`)
	assert.Contains(t, source, "finally:")
}

const storeSource = `import json


class Store:
    def load(self, path, retries=3):
        with open(path) as fh:
            data = json.load(fh)
        if not data:
            return None
        elif retries > 1:
            return self.load(path, retries - 1)
        else:
            return data
`

const renderSource = `def render(name, width):
    template = """Hello
{name}
  done"""
    return template.format(name=name).center(len(name) // width)
`

const loggerSource = `import logging
import os

log = logging.getLogger("app")


def remove(target):
    os.remove(target)
`

func TestIdempotence(t *testing.T) {
	t.Parallel()

	sources := map[string]struct {
		source string
		unit   string
	}{
		"store":  {storeSource, "Store.load"},
		"render": {renderSource, "render"},
		"logger": {loggerSource, "remove"},
		"inline": {"def parse_num(text): return int(text)\n", "parse_num"},
		"div":    {"def div(a, b):\n    return a / b\n", "div"},
	}
	for name, tc := range sources {
		tc := tc
		for _, dim := range model.AllDimensions() {
			dim := dim
			t.Run(name+"/"+dim.String(), func(t *testing.T) {
				t.Parallel()
				h, pool := newHealer(DefaultOptions())
				su := analyze(t, pool, tc.source)
				m, err := h.For(dim).Generate(context.Background(), su, unit(t, su, tc.unit))
				require.NoError(t, err)
				require.NotNil(t, m, "expected a modification")

				healed := splice(t, tc.source, m)
				require.True(t, pool.Valid(context.Background(), []byte(healed)), "invalid source:\n%s", healed)

				again := analyze(t, pool, healed)
				fn := unit(t, again, tc.unit)
				second, err := h.For(dim).Generate(context.Background(), again, fn)
				require.NoError(t, err)
				assert.Nil(t, second, "second application changed:\n%s", healed)
			})
		}
	}
}

func TestHealthyFunctionIsNoOp(t *testing.T) {
	t.Parallel()

	source := `import logging

logger = logging.getLogger(__name__)


def ratio(total: int, count: int) -> float:
    """Return the ratio of total to count.

    Args:
        total: The total value.
        count: The count value.

    Returns:
        The quotient.
    """
    if not isinstance(total, int):
        raise TypeError("total must be an int")
    if not isinstance(count, int) or count <= 0:
        raise ValueError("count must be positive")
    logger.debug("ratio: enter")
    try:
        return total / count
    except ZeroDivisionError:
        logger.exception("ratio failed")
        raise
    finally:
        logger.debug("ratio: exit")
`
	h, pool := newHealer(DefaultOptions())
	su := analyze(t, pool, source)
	fn := unit(t, su, "ratio")
	for _, dim := range model.AllDimensions() {
		m, err := h.For(dim).Generate(context.Background(), su, fn)
		require.NoError(t, err)
		assert.Nil(t, m, dim.String())
	}
}

func TestMultilineStringUntouched(t *testing.T) {
	t.Parallel()

	h, pool := newHealer(DefaultOptions())
	su := analyze(t, pool, renderSource)
	m, err := h.For(model.Observability).Generate(context.Background(), su, unit(t, su, "render"))
	require.NoError(t, err)
	require.NotNil(t, m)

	healed := splice(t, renderSource, m)
	assert.Contains(t, healed, "        template = \"\"\"Hello\n{name}\n  done\"\"\"\n")
	assert.Contains(t, healed, "    finally:\n")
	assert.Equal(t, "log entry, exit", m.Summary)
}

func TestInlineBodyExpanded(t *testing.T) {
	t.Parallel()

	h, pool := newHealer(DefaultOptions())
	source := "def parse_num(text): return int(text)\n"
	su := analyze(t, pool, source)
	m, err := h.For(model.Resilience).Generate(context.Background(), su, unit(t, su, "parse_num"))
	require.NoError(t, err)
	require.NotNil(t, m)

	healed := splice(t, source, m)
	assert.True(t, strings.HasPrefix(healed, "def parse_num(text):\n    try:\n        return int(text)\n    except (TypeError, ValueError):\n"), healed)
}

func TestModuleLoggerReused(t *testing.T) {
	t.Parallel()

	h, pool := newHealer(DefaultOptions())
	su := analyze(t, pool, loggerSource)
	m, err := h.For(model.Resilience).Generate(context.Background(), su, unit(t, su, "remove"))
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Contains(t, m.Replacement, "except OSError:")
	assert.Contains(t, m.Replacement, `log.exception("remove failed"`)
	assert.NotContains(t, m.Replacement, "import logging")
}

func TestResilienceModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode ResilienceMode
		want string
	}{
		{Reraise, "        raise\n"},
		{Wrap, `raise RuntimeError(f"div failed: {exc}") from exc`},
		{ReturnNone, "        return None\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()
			opts := DefaultOptions()
			opts.ResilienceMode = tt.mode
			h, pool := newHealer(opts)
			source := "def div(a, b):\n    return a / b\n"
			su := analyze(t, pool, source)
			m, err := h.For(model.Resilience).Generate(context.Background(), su, unit(t, su, "div"))
			require.NoError(t, err)
			require.NotNil(t, m)
			healed := splice(t, source, m)
			assert.Contains(t, healed, tt.want)
			assert.True(t, pool.Valid(context.Background(), []byte(healed)))
		})
	}
}

func TestBranchLogging(t *testing.T) {
	t.Parallel()

	h, pool := newHealer(DefaultOptions())
	su := analyze(t, pool, storeSource)
	m, err := h.For(model.Observability).Generate(context.Background(), su, unit(t, su, "Store.load"))
	require.NoError(t, err)
	require.NotNil(t, m)

	healed := splice(t, storeSource, m)
	assert.Equal(t, 3, strings.Count(healed, `"event": "branch"`))
	assert.Equal(t, "log 3 branch(es), entry, exit", m.Summary)

	fn := unit(t, analyze(t, pool, healed), "Store.load")
	assert.Equal(t, 1.0, score.Observability(fn))
}

func TestCareCompletesExistingDocstring(t *testing.T) {
	t.Parallel()

	source := "def scale(value, factor):\n    \"\"\"Scale it.\"\"\"\n    return value * factor\n"
	h, pool := newHealer(DefaultOptions())
	su := analyze(t, pool, source)
	m, err := h.For(model.Care).Generate(context.Background(), su, unit(t, su, "scale"))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "complete docstring", m.Summary)

	healed := splice(t, source, m)
	fn := unit(t, analyze(t, pool, healed), "scale")
	assert.True(t, strings.HasPrefix(fn.Docstring, "Scale it."), fn.Docstring)
	assert.Contains(t, fn.Docstring, "value: The value value.")
	assert.Contains(t, fn.Docstring, "Returns:")
	assert.Equal(t, 1.0, score.Care(fn, score.DefaultOptions()))
}

func TestCompleteDocFixpoint(t *testing.T) {
	t.Parallel()

	fn := model.FunctionUnit{
		Name:   "get_user",
		Params: []model.Param{{Name: "uid", Kind: model.PlainParam}, {Name: "cache", Kind: model.PlainParam, Default: "True", HasDefault: true}},
		Body:   model.BodySummary{Values: 1},
	}
	w := score.DefaultOptions().Care
	for _, existing := range []string{"Fetch.", "Fetch a user.\n\nArgs:\n    uid: id", "x"} {
		once := completeDoc(existing, fn, w)
		assert.Equal(t, once, completeDoc(once, fn, w), "from %q", existing)
		assert.Equal(t, once, parse.CleanDoc(strings.TrimSuffix(strings.TrimPrefix(docLiteral(once, "", "    "), `"""`), `"""`)))
	}
}

func TestSummaryLine(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"get_user":   "Return the user.",
		"is_valid":   "Return whether the object is valid.",
		"__init__":   "Initialize the instance.",
		"div":        "Handle the div operation.",
		"loadConfig": "Load the config.",
		"compute":    "Compute the value.",
		"_":          "Handle the operation.",
	}
	for name, want := range tests {
		got := summaryLine(name)
		assert.Equal(t, want, got, name)
		assert.GreaterOrEqual(t, len(strings.Fields(got)), 3, name)
	}
}

func TestGuardFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       model.Param
		numeric bool
		want    string
	}{
		{"annotation", model.Param{Name: "a", Type: "int"}, false, "if not isinstance(a, int):"},
		{"optional annotation", model.Param{Name: "x", Type: "Optional[float]", Default: "None", HasDefault: true}, false, "if x is not None and not isinstance(x, (int, float)):"},
		{"pep604 optional", model.Param{Name: "s", Type: "str | None"}, false, "if s is not None and not isinstance(s, str):"},
		{"numeric usage", model.Param{Name: "a"}, true, "if not isinstance(a, (int, float)):"},
		{"count name", model.Param{Name: "count"}, false, "if not isinstance(count, int) or count < 0:"},
		{"count name optional", model.Param{Name: "count", Default: "None", HasDefault: true}, false, "if count is not None and (not isinstance(count, int) or count < 0):"},
		{"path name", model.Param{Name: "config_path"}, false, `if not isinstance(config_path, (str, bytes)) and not hasattr(config_path, "__fspath__"):`},
		{"callback name", model.Param{Name: "callback"}, false, "if not callable(callback):"},
		{"plural name", model.Param{Name: "items"}, false, `if not hasattr(items, "__iter__"):`},
		{"bool default", model.Param{Name: "verbose", Default: "False", HasDefault: true}, false, "if not isinstance(verbose, bool):"},
		{"required", model.Param{Name: "thing"}, false, "if thing is None:"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := guardFor(tt.p, tt.numeric)
			require.Len(t, s, 2)
			assert.Equal(t, tt.want, s[0].text)
			assert.True(t, strings.HasPrefix(s[1].text, "raise "))
		})
	}

	assert.Nil(t, guardFor(model.Param{Name: "thing", Default: "None", HasDefault: true}, false))
}

func TestApplyEdits(t *testing.T) {
	t.Parallel()

	src := []byte("abcdef")
	got := applyEdits(src, []edit{{start: 1, end: 2, text: "X"}, {start: 4, end: 4, text: "YY"}, {start: 0, end: 0, text: ">"}})
	assert.Equal(t, ">aXcdYYef", string(got))
	assert.Equal(t, "abcdef", string(src))
}

func TestDetectUnit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "  ", detectUnit([]byte("def f():\n  return 1\n"), "    "))
	assert.Equal(t, "\t", detectUnit([]byte("class A:\n\tpass\n"), "    "))
	assert.Equal(t, "    ", detectUnit([]byte("x = 1\n"), "    "))
}

func TestNestedDefinitionIsNotWrapped(t *testing.T) {
	t.Parallel()

	source := `def outer(a):
    def inner(b):
        return b / 2
    return inner(a)
`
	h, pool := newHealer(DefaultOptions())
	su := analyze(t, pool, source)
	fn := unit(t, su, "outer")
	assert.Empty(t, fn.Body.Risky)

	m, err := h.For(model.Resilience).Generate(context.Background(), su, fn)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestHealedDivExecutes(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not found")
	}
	t.Parallel()

	h, pool := newHealer(DefaultOptions())
	source := "def div(a, b):\n    return a / b\n"
	for _, dim := range []model.Dimension{model.Validation, model.Resilience, model.Observability, model.Care} {
		su := analyze(t, pool, source)
		m, err := h.For(dim).Generate(context.Background(), su, unit(t, su, "div"))
		require.NoError(t, err, dim.String())
		require.NotNil(t, m, dim.String())
		source = splice(t, source, m)
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "healed.py"), []byte(source), 0o644))
	script := `import logging
import sys

logging.basicConfig(level=logging.DEBUG, stream=sys.stderr)

from healed import div

print(div(10, 2))
try:
    div(1, 0)
except ZeroDivisionError:
    print("ZeroDivisionError")
`
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(python, "-c", script)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "PYTHONDONTWRITEBYTECODE=1")
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	require.NoError(t, cmd.Run(), "stderr:\n%s\nsource:\n%s", stderr.String(), source)

	assert.Equal(t, "5.0\nZeroDivisionError\n", stdout.String())
	assert.Contains(t, stderr.String(), "div failed")
	assert.Contains(t, stderr.String(), "Traceback")
}
