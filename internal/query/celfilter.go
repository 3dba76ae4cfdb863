package query

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/driftq/driftq/internal/journal"
)

// celFilter wraps a compiled CEL program evaluated against each decoded
// envelope. A nil filter passes everything.
type celFilter struct {
	prog cel.Program
}

// newCELFilter compiles expr. An empty expression yields a nil filter.
func newCELFilter(expr string) (*celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("persistence_id", cel.StringType),
		cel.Variable("sequence", cel.IntType),
		cel.Variable("offset", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload (map/list/values) for field filtering.
		cel.Variable("json", cel.DynType),
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
	return &celFilter{prog: prog}, nil
}

// apply keeps the envelopes the expression accepts, in place. Evaluation
// errors reject the envelope.
func (f *celFilter) apply(envs []journal.Envelope) []journal.Envelope {
	out := envs[:0]
	for _, env := range envs {
		if f.eval(env) {
			out = append(out, env)
		}
	}
	return out
}

func (f *celFilter) eval(env journal.Envelope) bool {
	var jsonObj any
	_ = json.Unmarshal(env.Payload, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"persistence_id": env.PersistenceID,
		"sequence":       int64(env.SequenceNr),
		"offset":         int64(env.Offset),
		"size":           int64(len(env.Payload)),
		"text":           string(env.Payload),
		"json":           jsonObj,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
