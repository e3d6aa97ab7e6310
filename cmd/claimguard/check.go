package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcourtman/claimguard/pkg/ensure"
)

var (
	checkClaims         []string
	checkOps            []string
	checkMembers        []string
	checkAllowUntrusted bool
	checkAllowOffline   bool
	checkJSON           bool
	checkTimeout        time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check PRODUCT",
	Short: "Check that a product is licensed and its claims match",
	Long: `Open a transaction for PRODUCT, require the product to be licensed, apply
every requested claim check and print the transaction. The command fails when
any check fails.`,
	Example: `  # Product must be licensed
  claimguard check groupware

  # Exact values, numeric comparisons and set membership
  claimguard check groupware --claim edition=pro --op seats:ge:50 --member features=calendar`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		product := args[0]
		checks, err := parseChecks(checkClaims, checkOps, checkMembers)
		if err != nil {
			return err
		}

		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		// InstantEnsure would check the product before the trust and online
		// overrides apply, so the steps are spelled out here.
		e := rt.engine
		if err := e.Initialize(cmd.Context(), &product); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		if err := e.WaitUntilReadyTimeout(checkTimeout); err != nil {
			return fmt.Errorf("wait for claims: %w", err)
		}
		h, err := e.BeginEnsure()
		if err != nil {
			return err
		}
		defer e.EndEnsure(h)

		if err := e.EnsureSetAllowUntrusted(h, checkAllowUntrusted); err != nil {
			return err
		}
		if err := e.EnsureSetMustBeOnline(h, !checkAllowOffline); err != nil {
			return err
		}

		var failed error
		if err := e.EnsureOK(h, product); err != nil {
			failed = fmt.Errorf("product %s: %w", product, err)
		}
		for _, c := range checks {
			if err := c.apply(e, h, product); err != nil && failed == nil {
				failed = fmt.Errorf("%s: %w", c, err)
			}
		}

		if checkJSON {
			out, err := e.DumpEnsureJSON(h)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		} else {
			out, err := e.DumpEnsure(h)
			if err != nil {
				return err
			}
			fmt.Print(out)
		}
		return failed
	},
}

func init() {
	checkCmd.Flags().StringArrayVar(&checkClaims, "claim", nil, "Require claim to equal value (key=value)")
	checkCmd.Flags().StringArrayVar(&checkOps, "op", nil, "Compare a numeric claim (key:gt|ge|lt|le:value)")
	checkCmd.Flags().StringArrayVar(&checkMembers, "member", nil, "Require a string set claim to contain value (key=value)")
	checkCmd.Flags().BoolVar(&checkAllowUntrusted, "allow-untrusted", false, "Accept claims that failed verification")
	checkCmd.Flags().BoolVar(&checkAllowOffline, "allow-offline", false, "Accept claims that were not refreshed from the live source")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the transaction as JSON")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Second, "How long to wait for the claim set")
}

type checkKind int

const (
	checkEqual checkKind = iota
	checkCompare
	checkMember
)

// claimCheck is one parsed --claim, --op or --member flag.
type claimCheck struct {
	kind  checkKind
	claim string
	value ensure.Value
	op    ensure.Operator
	raw   string
}

func (c claimCheck) String() string { return c.raw }

func (c claimCheck) apply(e *ensure.Engine, h ensure.Handle, product string) error {
	switch c.kind {
	case checkMember:
		s, _ := c.value.Str()
		return e.EnsureStringArrayValue(h, product, c.claim, s)
	case checkCompare:
		if f, ok := c.value.Float64(); ok {
			return e.EnsureFloat64Op(h, product, c.claim, f, c.op)
		}
		i, _ := c.value.Int64()
		return e.EnsureInt64Op(h, product, c.claim, i, c.op)
	}

	switch c.value.Type() {
	case ensure.TypeBool:
		b, _ := c.value.Bool()
		return e.EnsureBool(h, product, c.claim, b)
	case ensure.TypeInt64:
		i, _ := c.value.Int64()
		return e.EnsureInt64(h, product, c.claim, i)
	case ensure.TypeFloat64:
		f, _ := c.value.Float64()
		return e.EnsureFloat64(h, product, c.claim, f)
	default:
		s, _ := c.value.Str()
		return e.EnsureString(h, product, c.claim, s)
	}
}

// parseChecks turns the check flags into claim checks. Values are typed the
// way the claim document types them, so seats=10 is an integer and
// trial=true a boolean. Quote a value to force a string: edition='"10"'.
func parseChecks(claims, ops, members []string) ([]claimCheck, error) {
	var checks []claimCheck

	for _, raw := range claims {
		key, val, ok := strings.Cut(raw, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --claim %q, want key=value", raw)
		}
		v, err := parseScalar(val)
		if err != nil {
			return nil, fmt.Errorf("invalid --claim %q: %w", raw, err)
		}
		checks = append(checks, claimCheck{kind: checkEqual, claim: key, value: v, raw: raw})
	}

	for _, raw := range ops {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("invalid --op %q, want key:op:value", raw)
		}
		op, err := ensure.ParseOperator(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid --op %q: %w", raw, err)
		}
		v, err := parseScalar(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid --op %q: %w", raw, err)
		}
		if t := v.Type(); t != ensure.TypeInt64 && t != ensure.TypeFloat64 {
			return nil, fmt.Errorf("invalid --op %q: value must be a number", raw)
		}
		checks = append(checks, claimCheck{kind: checkCompare, claim: parts[0], value: v, op: op, raw: raw})
	}

	for _, raw := range members {
		key, val, ok := strings.Cut(raw, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --member %q, want key=value", raw)
		}
		checks = append(checks, claimCheck{kind: checkMember, claim: key, value: ensure.StringValue(val), raw: raw})
	}

	return checks, nil
}

// parseScalar decodes a flag value with YAML scalar rules.
func parseScalar(s string) (ensure.Value, error) {
	if s == "" {
		return ensure.StringValue(""), nil
	}
	var raw interface{}
	if err := yaml.Unmarshal([]byte(s), &raw); err != nil {
		return ensure.Value{}, err
	}
	if raw == nil {
		return ensure.StringValue(s), nil
	}
	v, err := ensure.ParseValue(raw)
	if err != nil {
		return ensure.Value{}, err
	}
	if v.Type() == ensure.TypeStringSet {
		return ensure.Value{}, fmt.Errorf("set values are not supported here, use --member")
	}
	return v, nil
}

