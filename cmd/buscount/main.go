// buscount turns raw single-cell sequencing reads into cell-by-gene count
// matrices by sequencing kallisto and bustools invocations.
package main

import (
	"github.com/grailbio/base/grail"
	"v.io/x/lib/cmdline"
)

func main() {
	cleanup := grail.Init()
	defer cleanup()
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:     "buscount",
		Short:    "Generate count matrices from single-cell sequencing reads",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdCount(),
			newCmdRef(),
			newCmdInfo(),
		},
	})
}
