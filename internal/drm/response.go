package drm

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

type psshEntry struct {
	DRMType string `json:"drm_type"`
	Data    string `json:"data"`
}

type trackKey struct {
	Type  string      `json:"type"`
	KeyID string      `json:"key_id"`
	Key   string      `json:"key"`
	IV    string      `json:"iv"`
	PSSH  []psshEntry `json:"pssh"`
}

type keyResponse struct {
	Status     string          `json:"status"`
	KeyID      string          `json:"key_id"`
	ContentKey string          `json:"content_key"`
	Key        string          `json:"key"`
	KeyIV      string          `json:"key_iv"`
	IV         string          `json:"iv"`
	PSSHData   string          `json:"pssh_data"`
	PSSH       json.RawMessage `json:"pssh"`
	Tracks     []trackKey      `json:"tracks"`
}

// ParseKeyResponse decodes a key-server reply. The "response" member may be
// an object or a base64 string holding the JSON object.
func ParseKeyResponse(raw []byte, scheme Scheme) (KeyMaterial, error) {
	var outer struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: response is not JSON: %v", ErrKeyExchange, err)
	}
	if len(outer.Response) == 0 || string(outer.Response) == "null" {
		return KeyMaterial{}, fmt.Errorf("%w: response member missing", ErrKeyExchange)
	}

	inner := []byte(outer.Response)
	var encoded string
	if err := json.Unmarshal(inner, &encoded); err == nil {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("%w: response is not base64: %v", ErrKeyExchange, err)
		}
		inner = decoded
	}

	var kr keyResponse
	if err := json.Unmarshal(inner, &kr); err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: decode response: %v", ErrKeyExchange, err)
	}
	if kr.Status != "" && !strings.EqualFold(kr.Status, "OK") {
		return KeyMaterial{}, fmt.Errorf("%w: key server status %q", ErrKeyExchange, kr.Status)
	}

	keyID, key, iv := kr.KeyID, first(kr.ContentKey, kr.Key), first(kr.KeyIV, kr.IV)
	payload := kr.PSSHData
	if payload == "" {
		p, err := psshFromRaw(kr.PSSH, scheme)
		if err != nil {
			return KeyMaterial{}, err
		}
		payload = p
	}
	if keyID == "" && len(kr.Tracks) > 0 {
		t := kr.Tracks[0]
		keyID, key, iv = t.KeyID, first(key, t.Key), first(iv, t.IV)
		if payload == "" {
			payload = matchPSSH(t.PSSH, scheme)
		}
	}

	km := KeyMaterial{}
	var err error
	if km.KeyID, err = normalizeHex("key_id", keyID, 16); err != nil {
		return KeyMaterial{}, err
	}
	if km.ContentKey, err = normalizeHex("content_key", key, 16); err != nil {
		return KeyMaterial{}, err
	}
	if km.IV, err = normalizeHex("iv", iv, 16); err != nil {
		return KeyMaterial{}, err
	}
	if payload == "" {
		return KeyMaterial{}, fmt.Errorf("%w: pssh payload missing", ErrKeyExchange)
	}
	if km.PSSH, err = BuildPSSH(scheme, payload); err != nil {
		return KeyMaterial{}, err
	}
	return km, nil
}

func psshFromRaw(raw json.RawMessage, scheme Scheme) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var entries []psshEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return "", fmt.Errorf("%w: pssh field: %v", ErrKeyExchange, err)
	}
	return matchPSSH(entries, scheme), nil
}

func matchPSSH(entries []psshEntry, scheme Scheme) string {
	for _, e := range entries {
		if strings.EqualFold(e.DRMType, string(scheme)) {
			return e.Data
		}
	}
	if len(entries) == 1 && entries[0].DRMType == "" {
		return entries[0].Data
	}
	return ""
}

// normalizeHex accepts a hex or base64 value of size bytes and returns lowercase hex.
func normalizeHex(field, v string, size int) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s missing", ErrKeyExchange, field)
	}
	if len(v) == size*2 {
		if b, err := hex.DecodeString(v); err == nil {
			return hex.EncodeToString(b), nil
		}
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(v)
	}
	if err != nil || len(b) != size {
		return "", fmt.Errorf("%w: %s is neither %d-byte hex nor base64", ErrKeyExchange, field, size)
	}
	return hex.EncodeToString(b), nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
