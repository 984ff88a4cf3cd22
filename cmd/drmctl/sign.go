package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var signRawFlag bool

func init() {
	signCmd.Flags().BoolVar(&signRawFlag, "raw", false, "Also print the unsigned request JSON")
}

var signCmd = &cobra.Command{
	Use:   "sign <content-id>",
	Short: "Print the signed key request envelope for a content id",
	Long:  `Build the key request exactly as the server would and print the JSON envelope that is POSTed to the key server. No network I/O is performed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSign,
}

func runSign(cmd *cobra.Command, args []string) error {
	client, err := newClient(false)
	if err != nil {
		return err
	}
	env, req, err := client.BuildEnvelope(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if signRawFlag {
		fmt.Fprintf(out, "request: %s\n", req)
	}
	data, _ := json.MarshalIndent(env, "", "  ")
	fmt.Fprintln(out, string(data))
	return nil
}
