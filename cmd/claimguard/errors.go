package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcourtman/claimguard/pkg/ensure"
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Print the numeric error codes as C defines",
	Run: func(cmd *cobra.Command, args []string) {
		writeErrorDefines(os.Stdout)
	},
}

func writeErrorDefines(w io.Writer) {
	codes := make([]ensure.ErrNumeric, 0, len(ensure.ErrNumericToTextMap))
	for code := range ensure.ErrNumericToTextMap {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	fmt.Fprintf(w, "#define CLAIMGUARD_ERRSTATUSSUCCESS\t%d\n", uint64(ensure.StatusSuccess))
	for _, code := range codes {
		fmt.Fprintf(w, "#define CLAIMGUARD_%s\t0x%x\t// %d %s\n",
			strings.ToUpper(code.String()), uint64(code), uint64(code), ensure.ErrNumericText(code))
	}
}
