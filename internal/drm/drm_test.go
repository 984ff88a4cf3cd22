package drm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fixtureKey = "5625855D2DED6DCE228F4C5C79778A0B3AA796A015DC17596DFE7A82CC0842F1"
	fixtureIV  = "ED612526E30EF654002D14FB7AD1AB55"
)

func fixtureConfig(url string) Config {
	return Config{
		URL:              url,
		SigningKeyHex:    fixtureKey,
		SigningIVHex:     fixtureIV,
		Signer:           "fixture",
		Scheme:           "WIDEVINE",
		ProtectionScheme: "CBCS",
		DRMTypes:         []string{"WIDEVINE"},
		Tracks:           []string{"HD"},
	}
}

func TestBuildPSSH_widevine(t *testing.T) {
	got, err := BuildPSSH(Widevine, "CAESEA==")
	require.NoError(t, err)
	assert.Equal(t, "00000024"+"70737368"+"00000000"+"EDEF8BA979D64ACEA3C827DCD51D21ED"+"00000004"+"08011210", got)
}

func TestBuildPSSH_round_trip(t *testing.T) {
	payloads := [][]byte{{}, {0x08, 0x01}, make([]byte, 300)}
	for _, scheme := range []Scheme{Widevine, PlayReady, FairPlay} {
		for _, p := range payloads {
			boxHex, err := BuildPSSH(scheme, base64.StdEncoding.EncodeToString(p))
			require.NoError(t, err)
			assert.Len(t, boxHex, 2*(32+len(p)))

			parsed, err := ParsePSSH(boxHex)
			require.NoError(t, err)
			assert.Equal(t, scheme, parsed.Scheme)
			assert.Equal(t, p, parsed.Payload)
		}
	}
}

func TestBuildPSSH_errors(t *testing.T) {
	_, err := BuildPSSH("CLEARKEY", "CAESEA==")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = BuildPSSH(Widevine, "%%%")
	assert.Error(t, err)

	_, err = ParseScheme("marlin")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
	sc, err := ParseScheme(" playready ")
	require.NoError(t, err)
	assert.Equal(t, PlayReady, sc)
}

func TestCreateSignature_fixture(t *testing.T) {
	c := NewClient(fixtureConfig("http://unused"), nil, nil, nil)
	env, req, err := c.BuildEnvelope("stream-fixture")
	require.NoError(t, err)

	assert.Equal(t,
		`{"content_id":"c3RyZWFtLWZpeHR1cmU=","tracks":[{"type":"HD"}],"drm_types":["WIDEVINE"],"protection_scheme":"CBCS"}`,
		string(req))
	assert.Equal(t, "cRAqaoSZE80OTNL5Nbp7ztfogb0hxCYznJhRj0fgGp8=", env.Signature)
	assert.Equal(t, base64.StdEncoding.EncodeToString(req), env.Request)
	assert.Equal(t, "fixture", env.Signer)

	again, err := CreateSignature(req, fixtureKey, fixtureIV)
	require.NoError(t, err)
	assert.Equal(t, env.Signature, again)
}

func TestCreateSignature_bad_inputs(t *testing.T) {
	_, err := CreateSignature([]byte("x"), "abcd", fixtureIV)
	assert.ErrorIs(t, err, ErrSigning)
	_, err = CreateSignature([]byte("x"), fixtureKey, "zz")
	assert.ErrorIs(t, err, ErrSigning)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, fixtureConfig("http://k").Validate())

	cfg := fixtureConfig("http://k")
	cfg.SigningKeyHex = ""
	assert.ErrorIs(t, cfg.Validate(), ErrConfiguration)

	cfg = fixtureConfig("http://k")
	cfg.SigningIVHex = "00"
	assert.ErrorIs(t, cfg.Validate(), ErrConfiguration)

	cfg = fixtureConfig("http://k")
	cfg.Scheme = "clearkey"
	assert.ErrorIs(t, cfg.Validate(), ErrConfiguration)
}

func TestRequestKeys_missing_config_does_no_io(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	cfg := fixtureConfig(srv.URL)
	cfg.Signer = ""
	_, err := NewClient(cfg, srv.Client(), nil, nil).RequestKeys(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.False(t, called)
}

func TestRequestKeys_object_response(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var env Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		assert.Equal(t, "fixture", env.Signer)
		assert.NotEmpty(t, env.Signature)

		_, _ = w.Write([]byte(`{"response":{"key_id":"00112233445566778899AABBCCDDEEFF",` +
			`"content_key":"ffeeddccbbaa99887766554433221100",` +
			`"key_iv":"0102030405060708090a0b0c0d0e0f10",` +
			`"pssh_data":"CAESEA=="}}`))
	}))
	defer srv.Close()

	km, err := NewClient(fixtureConfig(srv.URL), srv.Client(), nil, nil).RequestKeys(context.Background(), "stream-1")
	require.NoError(t, err)
	assert.Equal(t, "00112233445566778899aabbccddeeff", km.KeyID)
	assert.Equal(t, "ffeeddccbbaa99887766554433221100", km.ContentKey)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", km.IV)
	assert.Equal(t, "000000247073736800000000EDEF8BA979D64ACEA3C827DCD51D21ED0000000408011210", km.PSSH)
}

func TestParseKeyResponse_base64_tracks(t *testing.T) {
	inner := `{"status":"OK","tracks":[{"type":"HD","key_id":"ABEiM0RVZneImaq7zN3u/w==",` +
		`"key":"ABEiM0RVZneImaq7zN3u/w==","iv":"ABEiM0RVZneImaq7zN3u/w==",` +
		`"pssh":[{"drm_type":"PLAYREADY","data":"AAAA"},{"drm_type":"WIDEVINE","data":"CAESEA=="}]}]}`
	raw := `{"response":"` + base64.StdEncoding.EncodeToString([]byte(inner)) + `"}`

	km, err := ParseKeyResponse([]byte(raw), Widevine)
	require.NoError(t, err)
	assert.Equal(t, "00112233445566778899aabbccddeeff", km.KeyID)
	assert.Equal(t, km.KeyID, km.ContentKey)

	parsed, err := ParsePSSH(km.PSSH)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x01, 0x12, 0x10}, parsed.Payload)
}

func TestParseKeyResponse_failures(t *testing.T) {
	cases := map[string]string{
		"not json":       `<html>`,
		"no response":    `{"other":1}`,
		"bad status":     `{"response":{"status":"ACCESS_DENIED"}}`,
		"missing key":    `{"response":{"key_id":"00112233445566778899aabbccddeeff","key_iv":"00112233445566778899aabbccddeeff","pssh_data":"CAESEA=="}}`,
		"short key id":   `{"response":{"key_id":"0011","key":"00112233445566778899aabbccddeeff","iv":"00112233445566778899aabbccddeeff","pssh_data":"CAESEA=="}}`,
		"missing pssh":   `{"response":{"key_id":"00112233445566778899aabbccddeeff","key":"00112233445566778899aabbccddeeff","iv":"00112233445566778899aabbccddeeff"}}`,
		"bad base64 env": `{"response":"!!!"}`,
	}
	for name, raw := range cases {
		_, err := ParseKeyResponse([]byte(raw), Widevine)
		assert.Truef(t, errors.Is(err, ErrKeyExchange), "%s: err = %v", name, err)
	}
}

func TestRequestKeys_http_error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(fixtureConfig(srv.URL), srv.Client(), nil, nil).RequestKeys(context.Background(), "s")
	assert.ErrorIs(t, err, ErrKeyExchange)
	assert.Contains(t, err.Error(), "403")
}
