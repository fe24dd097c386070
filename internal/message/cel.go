package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

const (
	// DefaultCancelWhen marks a message as a cancellation directive.
	DefaultCancelWhen = `msg.type == "cancel"`
	// DefaultPriorityOrder pops older messages first.
	DefaultPriorityOrder = `a.ts < b.ts`
	// DefaultContextField names the key holding the context id.
	DefaultContextField = "context"
)

// ErrInvalidExpression is returned when a CEL expression fails to compile or
// does not produce a bool.
var ErrInvalidExpression = errors.New("invalid expression")

// Classifier decides whether a message is a cancellation directive.
type Classifier struct {
	expr string
	prog cel.Program
}

// NewClassifier compiles expr with msg bound to the message fields. An empty
// expr selects DefaultCancelWhen.
func NewClassifier(expr string) (*Classifier, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultCancelWhen
	}
	prog, err := compile(expr, "msg")
	if err != nil {
		return nil, err
	}
	return &Classifier{expr: expr, prog: prog}, nil
}

// IsCancel evaluates the expression. Evaluation errors, such as a missing
// key, classify the message as work.
func (c *Classifier) IsCancel(m Message) bool {
	out, _, err := c.prog.Eval(map[string]any{"msg": m.Activation()})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// String returns the source expression.
func (c *Classifier) String() string { return c.expr }

// Comparator orders messages by a CEL expression over a and b.
type Comparator struct {
	expr string
	prog cel.Program
}

// NewComparator compiles expr, which must report whether a has priority over
// b. An empty expr selects DefaultPriorityOrder.
func NewComparator(expr string) (*Comparator, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultPriorityOrder
	}
	prog, err := compile(expr, "a", "b")
	if err != nil {
		return nil, err
	}
	return &Comparator{expr: expr, prog: prog}, nil
}

// Less reports whether a has priority over b. An evaluation error means
// neither has priority.
func (c *Comparator) Less(a, b Message) bool {
	out, _, err := c.prog.Eval(map[string]any{
		"a": a.Activation(),
		"b": b.Activation(),
	})
	if err != nil {
		return false
	}
	v, ok := out.Value().(bool)
	return ok && v
}

// String returns the source expression.
func (c *Comparator) String() string { return c.expr }

// ContextField returns a context id extractor reading the string value of
// field. Absent or non-string values leave the context undefined.
func ContextField(field string) func(Message) (string, bool) {
	if field == "" {
		field = DefaultContextField
	}
	return func(m Message) (string, bool) {
		v, ok := m.Value(field)
		if !ok {
			return "", false
		}
		s, ok := v.(string)
		return s, ok
	}
}

func compile(expr string, vars ...string) (cel.Program, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, name := range vars {
		opts = append(opts, cel.Variable(name, cel.MapType(cel.StringType, cel.DynType)))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, iss.Err())
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, iss.Err())
	}
	if out := checked.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: %q: result is %s, want bool", ErrInvalidExpression, expr, out)
	}

	prog, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, err)
	}
	return prog, nil
}
