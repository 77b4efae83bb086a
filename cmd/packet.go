package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/ibdissect/internal/config"
	"firestige.xyz/ibdissect/internal/core"
)

var packetCmd = &cobra.Command{
	Use:   "packet HEX",
	Short: "Decode one packet given as hex",
	Long: `Decode a single packet and print the decoded header tree.

The packet is decoded without session state, so connection-management
context and Send reassembly do not apply. Spaces and colons in HEX are
ignored.

Examples:
  ibdissect packet --start transport 0400ffff00000012000000016869deadbeef
  ibdissect packet --format json "f0 12 ..."`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runPacket(cfg, args[0], packetFlags.start, packetFlags.format, cmd.OutOrStdout())
	},
}

var packetFlags struct {
	start  string
	format string
}

func init() {
	packetCmd.Flags().StringVar(&packetFlags.start, "start", "link",
		"start header: link, global or transport")
	packetCmd.Flags().StringVar(&packetFlags.format, "format", "yaml",
		"output format: yaml or json")
}

func runPacket(cfg *config.Config, hexstr, start, format string, w io.Writer) error {
	kind, ok := core.ParseStartKind(start)
	if !ok {
		return fmt.Errorf("unknown start header %q", start)
	}
	buf, err := parseHex(hexstr)
	if err != nil {
		return err
	}
	sess, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer sess.close()

	pkt := sess.dissector(cfg.Dissector).DecodeBytes(buf, kind)
	return render(w, pkt, format)
}

// parseHex accepts hex with optional spaces, colons and a 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	buf, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}

func render(w io.Writer, v any, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q, must be yaml or json", format)
	}
}
