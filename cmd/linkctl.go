package cmd

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/ibdissect/internal/ib"
)

var linkctlCmd = &cobra.Command{
	Use:   "linkctl HEX",
	Short: "Decode a link flow-control packet",
	Long: `Decode a link flow-control packet (6 bytes: operand and FCTBS, VL and
FCCL, LPCRC). Reserved operands are reported with their raw bytes.

Example:
  ibdissect linkctl 0005 0010 abcd`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLinkCtl(strings.Join(args, ""), linkctlFormat, cmd.OutOrStdout())
	},
}

var linkctlFormat string

func init() {
	linkctlCmd.Flags().StringVar(&linkctlFormat, "format", "yaml", "output format: yaml or json")
}

func runLinkCtl(hexstr, format string, w io.Writer) error {
	buf, err := parseHex(hexstr)
	if err != nil {
		return err
	}
	return render(w, ib.DecodeLinkControl(buf), format)
}
