package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	psshDecodeFlag = false
	psshSchemeFlag = "WIDEVINE"
	signRawFlag = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPSSH_build_and_decode(t *testing.T) {
	out, err := execute(t, "pssh", "CAESEA==")
	require.NoError(t, err)
	box := strings.TrimSpace(out)
	assert.Equal(t, "000000247073736800000000EDEF8BA979D64ACEA3C827DCD51D21ED0000000408011210", box)

	out, err = execute(t, "pssh", "--decode", box)
	require.NoError(t, err)
	assert.Contains(t, out, "Scheme:  WIDEVINE")
	assert.Contains(t, out, "Payload: CAESEA==")
}

func TestPSSH_rejects_bad_input(t *testing.T) {
	_, err := execute(t, "pssh", "--scheme", "clearkey", "CAESEA==")
	assert.Error(t, err)

	_, err = execute(t, "pssh", "not base64!")
	assert.Error(t, err)
}

func TestSign_prints_envelope(t *testing.T) {
	t.Setenv("KEY_SERVER_URL", "https://keys.example.com/getkey")
	t.Setenv("WIDEVINE_SIGNING_KEY", strings.Repeat("11", 32))
	t.Setenv("WIDEVINE_SIGNING_IV", strings.Repeat("22", 16))
	t.Setenv("WIDEVINE_PROVIDER_NAME", "acme")
	t.Setenv("LIVE_CONFIG_FILE", "")

	out, err := execute(t, "sign", "stream-1")
	require.NoError(t, err)

	var env struct {
		Request   string `json:"request"`
		Signature string `json:"signature"`
		Signer    string `json:"signer"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.Equal(t, "acme", env.Signer)
	assert.NotEmpty(t, env.Request)
	assert.NotEmpty(t, env.Signature)
}

func TestKeys_requires_configuration(t *testing.T) {
	t.Setenv("KEY_SERVER_URL", "")
	t.Setenv("WIDEVINE_SIGNING_KEY", "")
	t.Setenv("LIVE_CONFIG_FILE", "")

	_, err := execute(t, "keys", "stream-1")
	assert.ErrorContains(t, err, "missing")
}
