package ensure

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Result is one recorded evaluation of a transaction.
type Result struct {
	Op       string
	Product  string
	Claim    string
	Expected string
	Code     ErrNumeric
}

// Transaction is a bounded sequence of claim checks against a single pinned
// view. A transaction has exactly one owner and must not be used from
// several goroutines at once.
type Transaction struct {
	id        ulid.ULID
	handle    Handle
	view      *View
	createdAt time.Time

	allowUntrusted bool
	mustBeOnline   bool

	results []Result
}

func newTransaction(view *View) *Transaction {
	return &Transaction{
		id:           ulid.Make(),
		view:         view,
		createdAt:    time.Now(),
		mustBeOnline: true,
	}
}

// ID returns the transaction's unique identifier.
func (tx *Transaction) ID() string { return tx.id.String() }

// Generation returns the pinned snapshot generation.
func (tx *Transaction) Generation() uint64 { return tx.view.Snapshot.Generation }

// Results returns a copy of the recorded evaluations.
func (tx *Transaction) Results() []Result {
	out := make([]Result, len(tx.results))
	copy(out, tx.results)
	return out
}

func (tx *Transaction) record(op, product, claim, expected string, err error) error {
	tx.results = append(tx.results, Result{
		Op:       op,
		Product:  product,
		Claim:    claim,
		Expected: expected,
		Code:     AsErrNumeric(err),
	})
	return err
}

// product resolves name against the pinned view. Existence is checked
// before licensing, licensing before online state and trust.
func (tx *Transaction) product(name string) (*Product, error) {
	set := tx.view.Snapshot.Set
	p, ok := set.Products[name]
	if !ok || p == nil {
		return nil, ErrEnsureProductNotFound
	}
	if !p.OK {
		return nil, ErrEnsureProductNotLicensed
	}
	if tx.mustBeOnline && !tx.view.Online {
		return nil, ErrEnsureOnlineFailed
	}
	if !tx.allowUntrusted && !tx.view.Trusted {
		return nil, ErrEnsureTrustedFailed
	}
	return p, nil
}

func (tx *Transaction) value(product, claim string) (Value, error) {
	p, err := tx.product(product)
	if err != nil {
		return Value{}, err
	}
	v, ok := p.Claims[claim]
	if !ok {
		return Value{}, ErrEnsureProductClaimNotFound
	}
	return v, nil
}

func (tx *Transaction) ensureOK(product string) error {
	_, err := tx.product(product)
	return tx.record("ok", product, "", "", err)
}

func (tx *Transaction) getBool(product, claim string) (bool, error) {
	v, err := tx.value(product, claim)
	if err != nil {
		return false, err
	}
	b, ok := v.Bool()
	if !ok {
		return false, ErrEnsureProductClaimValueTypeMismatch
	}
	return b, nil
}

func (tx *Transaction) getString(product, claim string) (string, error) {
	v, err := tx.value(product, claim)
	if err != nil {
		return "", err
	}
	s, ok := v.Str()
	if !ok {
		return "", ErrEnsureProductClaimValueTypeMismatch
	}
	return s, nil
}

func (tx *Transaction) getInt64(product, claim string) (int64, error) {
	v, err := tx.value(product, claim)
	if err != nil {
		return 0, err
	}
	i, ok := v.Int64()
	if !ok {
		return 0, ErrEnsureProductClaimValueTypeMismatch
	}
	return i, nil
}

func (tx *Transaction) getFloat64(product, claim string) (float64, error) {
	v, err := tx.value(product, claim)
	if err != nil {
		return 0, err
	}
	f, ok := v.Float64()
	if !ok {
		return 0, ErrEnsureProductClaimValueTypeMismatch
	}
	return f, nil
}

func (tx *Transaction) getStringSet(product, claim string) ([]string, error) {
	v, err := tx.value(product, claim)
	if err != nil {
		return nil, err
	}
	set, ok := v.StringSet()
	if !ok {
		return nil, ErrEnsureProductClaimValueTypeMismatch
	}
	return set, nil
}

func (tx *Transaction) ensureBool(product, claim string, want bool) error {
	got, err := tx.getBool(product, claim)
	if err == nil && got != want {
		err = ErrEnsureProductClaimValueMismatch
	}
	return tx.record("eq", product, claim, BoolValue(want).String(), err)
}

func (tx *Transaction) ensureString(product, claim string, want string) error {
	got, err := tx.getString(product, claim)
	if err == nil && got != want {
		err = ErrEnsureProductClaimValueMismatch
	}
	return tx.record("eq", product, claim, StringValue(want).String(), err)
}

func (tx *Transaction) ensureInt64(product, claim string, want int64) error {
	got, err := tx.getInt64(product, claim)
	if err == nil && got != want {
		err = ErrEnsureProductClaimValueMismatch
	}
	return tx.record("eq", product, claim, Int64Value(want).String(), err)
}

func (tx *Transaction) ensureFloat64(product, claim string, want float64) error {
	got, err := tx.getFloat64(product, claim)
	if err == nil && got != want {
		err = ErrEnsureProductClaimValueMismatch
	}
	return tx.record("eq", product, claim, Float64Value(want).String(), err)
}

func (tx *Transaction) ensureInt64Op(product, claim string, value int64, op Operator) error {
	expected := Int64Value(value).String()
	if !op.Valid() {
		return tx.record(op.String(), product, claim, expected, ErrEnsureUnknownOperator)
	}
	got, err := tx.getInt64(product, claim)
	if err == nil {
		var pass bool
		pass, err = compare(got, op, value)
		if err == nil && !pass {
			err = ErrEnsureProductClaimValueMismatch
		}
	}
	return tx.record(op.String(), product, claim, expected, err)
}

func (tx *Transaction) ensureFloat64Op(product, claim string, value float64, op Operator) error {
	expected := Float64Value(value).String()
	if !op.Valid() {
		return tx.record(op.String(), product, claim, expected, ErrEnsureUnknownOperator)
	}
	got, err := tx.getFloat64(product, claim)
	if err == nil {
		var pass bool
		pass, err = compare(got, op, value)
		if err == nil && !pass {
			err = ErrEnsureProductClaimValueMismatch
		}
	}
	return tx.record(op.String(), product, claim, expected, err)
}

func (tx *Transaction) ensureStringSetMember(product, claim, member string) error {
	v, err := tx.value(product, claim)
	if err == nil {
		switch {
		case v.Type() != TypeStringSet:
			err = ErrEnsureProductClaimValueTypeMismatch
		case !v.Contains(member):
			err = ErrEnsureProductClaimValueMismatch
		}
	}
	return tx.record("member", product, claim, StringValue(member).String(), err)
}
