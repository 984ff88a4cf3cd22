package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dhruva-antino/live-drm/internal/drm"
	"github.com/dhruva-antino/live-drm/internal/platform/config"
	"github.com/dhruva-antino/live-drm/internal/platform/logger"
)

var rootCmd = &cobra.Command{
	Use:   "drmctl",
	Short: "Inspect and exercise the DRM key exchange",
	Long: `drmctl builds PSSH boxes, signs key requests and talks to the key server
using the same configuration as the live server (environment, .env and
LIVE_CONFIG_FILE).

Examples:
  drmctl pssh CAESEA==                 # Widevine box for a base64 payload
  drmctl pssh --decode 00000024...     # Inspect a hex box
  drmctl sign stream-123               # Print the signed request envelope
  drmctl keys stream-123 --json        # Run a key exchange`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(psshCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(keysCmd)
}

// newClient builds a key-server client from the process configuration.
func newClient(verbose bool) (*drm.Client, error) {
	_ = config.Load()
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log := logger.Discard()
	if verbose {
		log = logger.NewTo(os.Stderr, "debug", "text")
	}
	ks := cfg.KeyServer
	return drm.NewClient(drm.Config{
		URL:              ks.URL,
		SigningKeyHex:    ks.SigningKeyHex,
		SigningIVHex:     ks.SigningIVHex,
		Signer:           ks.Signer,
		Scheme:           ks.Scheme,
		ProtectionScheme: ks.ProtectionScheme,
		DRMTypes:         ks.DRMTypes,
		Tracks:           ks.Tracks,
		Timeout:          ks.Timeout,
	}, nil, log, nil), nil
}
