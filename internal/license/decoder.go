// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/golang-jwt/jwt/v4"
)

// Decoder turns a signed license string into verified claims.
type Decoder interface {
	Decode(raw string) (*Claims, error)
}

// JWTDecoder verifies EdDSA signed licenses against a set of public keys.
type JWTDecoder struct {
	keys     map[string]ed25519.PublicKey
	versions *semver.Constraints
	parser   *jwt.Parser
}

// NewDecoder creates a decoder trusting the given keys. Key IDs are matched
// case-insensitively.
func NewDecoder(keys map[string]ed25519.PublicKey) *JWTDecoder {
	normalized := make(map[string]ed25519.PublicKey, len(keys))
	for id, key := range keys {
		normalized[strings.ToLower(id)] = key
	}

	versions, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		panic(fmt.Sprintf("invalid supported version constraint %q: %v", SupportedVersions, err))
	}

	return &JWTDecoder{
		keys:     normalized,
		versions: versions,
		parser: jwt.NewParser(
			jwt.WithValidMethods(ValidMethods),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Decode verifies the signature and claims of raw. Whitespace anywhere in the
// input is ignored so licenses pasted with line wrapping still decode. Every
// returned error wraps ErrDecode.
func (d *JWTDecoder) Decode(raw string) (*Claims, error) {
	compact := strings.Join(strings.Fields(raw), "")
	if compact == "" {
		return nil, fmt.Errorf("%w: %w", ErrDecode, ErrEmpty)
	}

	tok, err := d.parser.ParseWithClaims(compact, &Claims{}, d.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("%w: unable to parse claims", ErrDecode)
	}

	if err := d.checkVersion(claims.Version); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if err := claims.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return claims, nil
}

func (d *JWTDecoder) checkVersion(version string) error {
	if version == "" {
		return ErrMissingVersion
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}
	if !d.versions.Check(v) {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}
	return nil
}

func (d *JWTDecoder) keyFunc(tok *jwt.Token) (interface{}, error) {
	keyID, ok := tok.Header[HeaderKeyID].(string)
	if !ok || keyID == "" {
		return nil, ErrMissingKeyID
	}
	key, ok := d.keys[strings.ToLower(keyID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyID, keyID)
	}
	return key, nil
}

// ParsePublicKeys decodes base64 (standard or URL alphabet) Ed25519 public keys
// keyed by key ID, as they appear in the configuration file.
func ParsePublicKeys(encoded map[string]string) (map[string]ed25519.PublicKey, error) {
	keys := make(map[string]ed25519.PublicKey, len(encoded))
	for id, value := range encoded {
		value = strings.TrimSpace(value)
		raw, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			raw, err = base64.RawURLEncoding.DecodeString(value)
			if err != nil {
				return nil, fmt.Errorf("license key %q is not valid base64: %w", id, err)
			}
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("license key %q has %d bytes, want %d", id, len(raw), ed25519.PublicKeySize)
		}
		keys[strings.ToLower(id)] = ed25519.PublicKey(raw)
	}
	return keys, nil
}
