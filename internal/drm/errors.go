// Package drm implements the signed key-exchange protocol against a
// Widevine-style key server and the PSSH box construction used by the packager.
package drm

import "errors"

var (
	// ErrConfiguration means signing inputs are missing or malformed.
	ErrConfiguration = errors.New("drm configuration invalid")
	// ErrSigning means the request signature could not be produced.
	ErrSigning = errors.New("drm request signing failed")
	// ErrKeyExchange covers transport, status and response parsing failures.
	ErrKeyExchange = errors.New("drm key exchange failed")
	// ErrUnsupportedScheme is returned for an unknown DRM system.
	ErrUnsupportedScheme = errors.New("unsupported drm scheme")
)
