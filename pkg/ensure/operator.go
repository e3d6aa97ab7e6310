package ensure

import (
	"fmt"
	"strings"
)

// Operator is a numeric comparison applied as `stored <op> value`.
type Operator int

// Operator codes. The numbers are part of the foreign ABI.
const (
	OperatorGreaterThan        Operator = 1
	OperatorGreaterThanOrEqual Operator = 2
	OperatorLesserThan         Operator = 3
	OperatorLesserThanOrEqual  Operator = 4
)

// Valid reports whether op is one of the four known operators.
func (op Operator) Valid() bool {
	return op >= OperatorGreaterThan && op <= OperatorLesserThanOrEqual
}

func (op Operator) String() string {
	switch op {
	case OperatorGreaterThan:
		return "gt"
	case OperatorGreaterThanOrEqual:
		return "ge"
	case OperatorLesserThan:
		return "lt"
	case OperatorLesserThanOrEqual:
		return "le"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// ParseOperator accepts gt, ge, lt, le (and >, >=, <, <=).
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gt", ">":
		return OperatorGreaterThan, nil
	case "ge", ">=":
		return OperatorGreaterThanOrEqual, nil
	case "lt", "<":
		return OperatorLesserThan, nil
	case "le", "<=":
		return OperatorLesserThanOrEqual, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrEnsureUnknownOperator, s)
	}
}

type ordered interface {
	~int64 | ~float64
}

func compare[T ordered](stored T, op Operator, value T) (bool, error) {
	switch op {
	case OperatorGreaterThan:
		return stored > value, nil
	case OperatorGreaterThanOrEqual:
		return stored >= value, nil
	case OperatorLesserThan:
		return stored < value, nil
	case OperatorLesserThanOrEqual:
		return stored <= value, nil
	default:
		return false, ErrEnsureUnknownOperator
	}
}
