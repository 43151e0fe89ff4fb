package filter

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// Filter decides whether a record's content passes the configured match
// rules. Two rules combine with AND:
//
//   - substring list: case-insensitive, the content must contain at least one
//     entry; an empty list passes everything;
//   - optional CEL expression over the record's fields.
type Filter struct {
	substrings []string
	prog       cel.Program
}

// Record is the view a CEL expression evaluates against.
type Record struct {
	Partition string
	Sequence  uint64
	Content   []byte
	Props     map[string]string
}

// New compiles a filter from a substring list and an optional CEL expression.
func New(substrings []string, expr string) (*Filter, error) {
	f := &Filter{}
	for _, s := range substrings {
		s = strings.TrimSpace(s)
		if s != "" {
			f.substrings = append(f.substrings, strings.ToLower(s))
		}
	}

	expr = strings.TrimSpace(expr)
	if expr != "" {
		env, err := cel.NewEnv(
			cel.Variable("partition", cel.StringType),
			cel.Variable("sequence", cel.IntType),
			cel.Variable("text", cel.StringType),
			cel.Variable("size", cel.IntType),
			cel.Variable("props", cel.MapType(cel.StringType, cel.StringType)),
		)
		if err != nil {
			return nil, err
		}
		ast, iss := env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return nil, iss.Err()
		}
		prog, err := env.Program(ast)
		if err != nil {
			return nil, err
		}
		f.prog = prog
	}
	return f, nil
}

// Empty reports whether the filter passes everything.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.substrings) == 0 && f.prog == nil)
}

// Match reports whether the record passes the filter.
func (f *Filter) Match(rec Record) bool {
	if f == nil {
		return true
	}
	if len(f.substrings) > 0 && !f.matchSubstring(rec.Content) {
		return false
	}
	if f.prog != nil && !f.evalCEL(rec) {
		return false
	}
	return true
}

// MatchContent applies only the substring rule, for callers without the full
// record view.
func (f *Filter) MatchContent(content []byte) bool {
	if f == nil || len(f.substrings) == 0 {
		return true
	}
	return f.matchSubstring(content)
}

func (f *Filter) matchSubstring(content []byte) bool {
	lower := strings.ToLower(string(content))
	for _, sub := range f.substrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// evalCEL returns false on evaluation errors; a broken expression must not
// let records through.
func (f *Filter) evalCEL(rec Record) bool {
	props := rec.Props
	if props == nil {
		props = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]interface{}{
		"partition": rec.Partition,
		"sequence":  int64(rec.Sequence),
		"text":      string(rec.Content),
		"size":      int64(len(rec.Content)),
		"props":     props,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
