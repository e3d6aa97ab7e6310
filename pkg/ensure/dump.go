package ensure

import (
	"encoding/json"
	"fmt"
	"strings"
)

// dump renders the recorded results as human readable text.
func (tx *Transaction) dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transaction %s generation %d online=%t trusted=%t allow_untrusted=%t must_be_online=%t\n",
		tx.id, tx.Generation(), tx.view.Online, tx.view.Trusted, tx.allowUntrusted, tx.mustBeOnline)
	if len(tx.results) == 0 {
		b.WriteString("  (no checks)\n")
		return b.String()
	}
	for i, r := range tx.results {
		subject := r.Product
		if r.Claim != "" {
			subject += "/" + r.Claim
		}
		outcome := "ok"
		if r.Code != StatusSuccess {
			outcome = fmt.Sprintf("%s (%s)", ErrNumericText(r.Code), r.Code.String())
		}
		if r.Expected != "" {
			fmt.Fprintf(&b, "  %d. %s %s %s: %s\n", i+1, r.Op, subject, r.Expected, outcome)
		} else {
			fmt.Fprintf(&b, "  %d. %s %s: %s\n", i+1, r.Op, subject, outcome)
		}
	}
	return b.String()
}

// dumpJSON encodes the pinned claim set.
func (tx *Transaction) dumpJSON() ([]byte, error) {
	m := tx.view.Snapshot.Set.Dump()
	m["generation"] = tx.Generation()
	m["online"] = tx.view.Online
	m["trusted"] = tx.view.Trusted
	return json.Marshal(m)
}
