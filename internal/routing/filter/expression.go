package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/gezibash/routectl/internal/discovery"
)

// Expression ignores endpoints or partitions matching operator-supplied
// CEL expressions. The endpoint expression sees `topic`, `type_name` and
// `direction`; the partition expression sees `partition`. An empty
// expression never ignores. Evaluation errors never ignore either:
// dropping an endpoint on a bad expression would silently sever routes.
type Expression struct {
	endpoint  cel.Program
	partition cel.Program
}

// NewExpression compiles the given CEL expressions. Either may be empty.
func NewExpression(endpointExpr, partitionExpr string) (*Expression, error) {
	f := &Expression{}

	if endpointExpr != "" {
		prog, err := compile(endpointExpr, "topic", "type_name", "direction")
		if err != nil {
			return nil, fmt.Errorf("endpoint expression: %w", err)
		}
		f.endpoint = prog
	}

	if partitionExpr != "" {
		prog, err := compile(partitionExpr, "partition")
		if err != nil {
			return nil, fmt.Errorf("partition expression: %w", err)
		}
		f.partition = prog
	}

	return f, nil
}

func compile(expr string, vars ...string) (cel.Program, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.StringType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}
	return prog, nil
}

func match(prog cel.Program, attrs map[string]any) bool {
	if prog == nil {
		return false
	}
	out, _, err := prog.Eval(attrs)
	if err != nil {
		return false
	}
	if out.Type() != types.BoolType {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

func (f *Expression) IgnorePublication(_ discovery.ParticipantLookup, _ discovery.Handle, data *discovery.EndpointData) bool {
	return match(f.endpoint, map[string]any{
		"topic":     data.TopicName,
		"type_name": data.TypeName,
		"direction": "OUT",
	})
}

func (f *Expression) IgnoreSubscription(_ discovery.ParticipantLookup, _ discovery.Handle, data *discovery.EndpointData) bool {
	return match(f.endpoint, map[string]any{
		"topic":     data.TopicName,
		"type_name": data.TypeName,
		"direction": "IN",
	})
}

func (f *Expression) IgnorePartition(partition string) bool {
	return match(f.partition, map[string]any{
		"partition": partition,
	})
}
