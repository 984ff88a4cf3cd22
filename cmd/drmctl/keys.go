package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	keysJSONFlag    bool
	keysVerboseFlag bool
	keysTimeoutFlag time.Duration
)

func init() {
	keysCmd.Flags().BoolVar(&keysJSONFlag, "json", false, "Output as JSON")
	keysCmd.Flags().BoolVarP(&keysVerboseFlag, "verbose", "v", false, "Log the exchange to stderr")
	keysCmd.Flags().DurationVar(&keysTimeoutFlag, "timeout", 15*time.Second, "Overall deadline")
}

var keysCmd = &cobra.Command{
	Use:   "keys <content-id>",
	Short: "Run a key exchange and print the key material",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeys,
}

func runKeys(cmd *cobra.Command, args []string) error {
	client, err := newClient(keysVerboseFlag)
	if err != nil {
		return err
	}
	if err := client.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), keysTimeoutFlag)
	defer cancel()
	km, err := client.RequestKeys(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if keysJSONFlag {
		data, _ := json.MarshalIndent(map[string]string{
			"keyId":      km.KeyID,
			"contentKey": km.ContentKey,
			"iv":         km.IV,
			"pssh":       km.PSSH,
		}, "", "  ")
		fmt.Fprintln(out, string(data))
		return nil
	}
	fmt.Fprintf(out, "Key ID:      %s\n", km.KeyID)
	fmt.Fprintf(out, "Content key: %s\n", km.ContentKey)
	fmt.Fprintf(out, "IV:          %s\n", km.IV)
	fmt.Fprintf(out, "PSSH:        %s\n", km.PSSH)
	return nil
}
