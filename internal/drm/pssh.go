package drm

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Scheme names a DRM system.
type Scheme string

const (
	Widevine  Scheme = "WIDEVINE"
	PlayReady Scheme = "PLAYREADY"
	FairPlay  Scheme = "FAIRPLAY"
)

var systemIDs = map[Scheme][16]byte{
	Widevine:  {0xed, 0xef, 0x8b, 0xa9, 0x79, 0xd6, 0x4a, 0xce, 0xa3, 0xc8, 0x27, 0xdc, 0xd5, 0x1d, 0x21, 0xed},
	PlayReady: {0x9a, 0x04, 0xf0, 0x79, 0x98, 0x40, 0x42, 0x86, 0xab, 0x92, 0xe6, 0x5b, 0xe0, 0x88, 0x5f, 0x95},
	FairPlay:  {0x94, 0xce, 0x86, 0xfb, 0x07, 0xff, 0x4f, 0x43, 0xad, 0xb8, 0x93, 0xd2, 0xfa, 0x96, 0x8c, 0xa2},
}

// WidevineKeyFormat is the KEYFORMAT advertised for Widevine keys in HLS.
const WidevineKeyFormat = "urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"

// ParseScheme normalises a scheme name.
func ParseScheme(s string) (Scheme, error) {
	sc := Scheme(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := systemIDs[sc]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, s)
	}
	return sc, nil
}

// SystemID returns the 16-byte system identifier of scheme.
func SystemID(scheme Scheme) ([16]byte, error) {
	id, ok := systemIDs[scheme]
	if !ok {
		return [16]byte{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return id, nil
}

const psshHeaderSize = 32

// BuildPSSH wraps a base64 system payload in a version 0 pssh box and
// returns it as uppercase hex.
func BuildPSSH(scheme Scheme, payloadB64 string) (string, error) {
	payload, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", fmt.Errorf("%w: pssh payload is not base64: %v", ErrKeyExchange, err)
	}
	box, err := PSSHBox(scheme, payload)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(box)), nil
}

// PSSHBox builds the raw box bytes.
func PSSHBox(scheme Scheme, payload []byte) ([]byte, error) {
	id, err := SystemID(scheme)
	if err != nil {
		return nil, err
	}
	box := make([]byte, psshHeaderSize+len(payload))
	binary.BigEndian.PutUint32(box[0:4], uint32(len(box)))
	copy(box[4:8], "pssh")
	// box[8:12]: version 0, flags 0
	copy(box[12:28], id[:])
	binary.BigEndian.PutUint32(box[28:32], uint32(len(payload)))
	copy(box[32:], payload)
	return box, nil
}

// ParsedPSSH is the decoded form of a pssh box.
type ParsedPSSH struct {
	Scheme  Scheme
	Payload []byte
}

// ParsePSSH decodes a hex pssh box produced by BuildPSSH.
func ParsePSSH(boxHex string) (ParsedPSSH, error) {
	box, err := hex.DecodeString(boxHex)
	if err != nil {
		return ParsedPSSH{}, fmt.Errorf("pssh: %w", err)
	}
	if len(box) < psshHeaderSize {
		return ParsedPSSH{}, fmt.Errorf("pssh: box too short (%d bytes)", len(box))
	}
	if size := binary.BigEndian.Uint32(box[0:4]); int(size) != len(box) {
		return ParsedPSSH{}, fmt.Errorf("pssh: size field %d, box is %d bytes", size, len(box))
	}
	if string(box[4:8]) != "pssh" {
		return ParsedPSSH{}, fmt.Errorf("pssh: bad box type %q", box[4:8])
	}
	n := binary.BigEndian.Uint32(box[28:32])
	if int(n) != len(box)-psshHeaderSize {
		return ParsedPSSH{}, fmt.Errorf("pssh: payload length %d, have %d", n, len(box)-psshHeaderSize)
	}
	var id [16]byte
	copy(id[:], box[12:28])
	for sc, sid := range systemIDs {
		if sid == id {
			return ParsedPSSH{Scheme: sc, Payload: box[psshHeaderSize:]}, nil
		}
	}
	return ParsedPSSH{}, fmt.Errorf("%w: system id %x", ErrUnsupportedScheme, id)
}
