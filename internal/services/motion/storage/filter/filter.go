// Package filter translates AIP-160 session filters into SQL conditions.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/cuerposonoro/internal/services/motion/storage"
	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindTimestamp
)

type field struct {
	column string
	kind   fieldKind
}

var fields = map[string]field{
	"id":           {column: "id", kind: kindString},
	"user_id":      {column: "user_id", kind: kindString},
	"close_reason": {column: "close_reason", kind: kindString},
	"frames":       {column: "frames", kind: kindInt},
	"empty_frames": {column: "empty_frames", kind: kindInt},
	"started_at":   {column: "started_at", kind: kindTimestamp},
	"ended_at":     {column: "ended_at", kind: kindTimestamp},
}

var operators = map[string]string{
	"_==_": "=", "=": "=",
	"_!=_": "!=", "!=": "!=",
	"_<_": "<", "<": "<",
	"_<=_": "<=", "<=": "<=",
	"_>_": ">", ">": ">",
	"_>=_": ">=", ">=": ">=",
}

// SessionDeclarations returns the identifiers available to session filters.
func SessionDeclarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("id", filtering.TypeString),
		filtering.DeclareIdent("user_id", filtering.TypeString),
		filtering.DeclareIdent("close_reason", filtering.TypeString),
		filtering.DeclareIdent("frames", filtering.TypeInt),
		filtering.DeclareIdent("empty_frames", filtering.TypeInt),
		filtering.DeclareIdent("started_at", filtering.TypeTimestamp),
		filtering.DeclareIdent("ended_at", filtering.TypeTimestamp),
	)
}

// ParseSessionFilter parses a filter expression such as
// `close_reason = "decode_fault" AND frames > 10`. A blank filter yields an
// empty condition.
func ParseSessionFilter(filterStr string) (storage.Condition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return storage.Condition{}, nil
	}
	decls, err := SessionDeclarations()
	if err != nil {
		return storage.Condition{}, fmt.Errorf("create declarations: %w", err)
	}
	parsed, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return storage.Condition{}, fmt.Errorf("parse filter: %w", err)
	}
	return translate(parsed.CheckedExpr.GetExpr())
}

func translate(e *expr.Expr) (storage.Condition, error) {
	if e == nil {
		return storage.Condition{}, nil
	}
	call, ok := e.ExprKind.(*expr.Expr_CallExpr)
	if !ok {
		return storage.Condition{}, fmt.Errorf("unsupported expression type: %T", e.ExprKind)
	}
	switch fn := call.CallExpr.Function; fn {
	case "_&&_", "AND":
		return join(call.CallExpr.Args, "AND")
	case "_||_", "OR":
		return join(call.CallExpr.Args, "OR")
	case "NOT", "_!_":
		if len(call.CallExpr.Args) != 1 {
			return storage.Condition{}, fmt.Errorf("NOT requires 1 argument")
		}
		inner, err := translate(call.CallExpr.Args[0])
		if err != nil {
			return storage.Condition{}, err
		}
		return storage.Condition{Clause: "NOT " + inner.Clause, Params: inner.Params}, nil
	default:
		op, ok := operators[fn]
		if !ok {
			return storage.Condition{}, fmt.Errorf("unsupported function: %s", fn)
		}
		return compare(call.CallExpr.Args, op)
	}
}

func join(args []*expr.Expr, keyword string) (storage.Condition, error) {
	if len(args) != 2 {
		return storage.Condition{}, fmt.Errorf("%s requires 2 arguments", keyword)
	}
	left, err := translate(args[0])
	if err != nil {
		return storage.Condition{}, err
	}
	right, err := translate(args[1])
	if err != nil {
		return storage.Condition{}, err
	}
	params := make([]any, 0, len(left.Params)+len(right.Params))
	params = append(params, left.Params...)
	params = append(params, right.Params...)
	return storage.Condition{
		Clause: fmt.Sprintf("(%s %s %s)", left.Clause, keyword, right.Clause),
		Params: params,
	}, nil
}

func compare(args []*expr.Expr, op string) (storage.Condition, error) {
	if len(args) != 2 {
		return storage.Condition{}, fmt.Errorf("comparison requires 2 arguments")
	}
	ident, ok := args[0].GetExprKind().(*expr.Expr_IdentExpr)
	if !ok {
		return storage.Condition{}, fmt.Errorf("expected identifier on the left of %s", op)
	}
	f, ok := fields[ident.IdentExpr.GetName()]
	if !ok {
		return storage.Condition{}, fmt.Errorf("unknown field: %s", ident.IdentExpr.GetName())
	}
	value, err := valueFor(f, args[1])
	if err != nil {
		return storage.Condition{}, fmt.Errorf("%s: %w", ident.IdentExpr.GetName(), err)
	}
	return storage.Condition{
		Clause: fmt.Sprintf("%s %s ?", f.column, op),
		Params: []any{value},
	}, nil
}

func valueFor(f field, e *expr.Expr) (any, error) {
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_ConstExpr:
		switch c := kind.ConstExpr.GetConstantKind().(type) {
		case *expr.Constant_StringValue:
			if f.kind == kindTimestamp {
				return timestampMillis(c.StringValue)
			}
			if f.kind != kindString {
				return nil, fmt.Errorf("expected integer value")
			}
			return c.StringValue, nil
		case *expr.Constant_Int64Value:
			if f.kind != kindInt {
				return nil, fmt.Errorf("unexpected integer value")
			}
			return c.Int64Value, nil
		default:
			return nil, fmt.Errorf("unsupported constant type: %T", c)
		}
	case *expr.Expr_CallExpr:
		if f.kind == kindTimestamp && kind.CallExpr.GetFunction() == "timestamp" && len(kind.CallExpr.GetArgs()) == 1 {
			arg, ok := kind.CallExpr.GetArgs()[0].GetExprKind().(*expr.Expr_ConstExpr)
			if !ok {
				return nil, fmt.Errorf("timestamp argument must be a constant string")
			}
			s, ok := arg.ConstExpr.GetConstantKind().(*expr.Constant_StringValue)
			if !ok {
				return nil, fmt.Errorf("timestamp argument must be a string")
			}
			return timestampMillis(s.StringValue)
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.GetFunction())
	default:
		return nil, fmt.Errorf("expected constant, got %T", kind)
	}
}

func timestampMillis(value string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp format: %s", value)
	}
	return t.UTC().UnixMilli(), nil
}
