package main

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhruva-antino/live-drm/internal/drm"
)

var (
	psshSchemeFlag string
	psshDecodeFlag bool
)

func init() {
	psshCmd.Flags().StringVar(&psshSchemeFlag, "scheme", string(drm.Widevine), "DRM system (WIDEVINE, PLAYREADY, FAIRPLAY)")
	psshCmd.Flags().BoolVar(&psshDecodeFlag, "decode", false, "Treat the argument as a hex box and print its contents")
}

var psshCmd = &cobra.Command{
	Use:   "pssh <base64-payload | hex-box>",
	Short: "Build or decode a PSSH box",
	Args:  cobra.ExactArgs(1),
	RunE:  runPSSH,
}

func runPSSH(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if psshDecodeFlag {
		parsed, err := drm.ParsePSSH(strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Scheme:  %s\n", parsed.Scheme)
		fmt.Fprintf(out, "Payload: %s\n", base64.StdEncoding.EncodeToString(parsed.Payload))
		return nil
	}

	scheme, err := drm.ParseScheme(psshSchemeFlag)
	if err != nil {
		return err
	}
	box, err := drm.BuildPSSH(scheme, strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, box)
	return nil
}
