package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/ibdissect/internal/ib/opcode"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Print the opcode to header-sequence table",
	Long: `Print, for every transport opcode, its name and the extended headers
that follow the base transport header.

Opcodes without a known sequence are omitted unless --all is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClassify(cmd.OutOrStdout(), classifyAll)
	},
}

var classifyAll bool

func init() {
	classifyCmd.Flags().BoolVar(&classifyAll, "all", false, "include unknown and vendor opcodes")
}

func runClassify(w io.Writer, all bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPCODE\tNAME\tSEQUENCE\tPAYLOAD")
	for i := 0; i < 256; i++ {
		op := uint8(i)
		tag := opcode.Classify(op, false)
		if tag == opcode.TagUnknown && !all {
			continue
		}
		seq := tag.Sequence()
		name := seq.Name
		if dc := opcode.Classify(op, true); dc != tag {
			name += " (DC connect: " + dc.String() + ")"
		}
		fmt.Fprintf(tw, "0x%02x\t%s\t%s\t%s\n", op, opcode.Name(op), name, yesNo(seq.Payload))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
