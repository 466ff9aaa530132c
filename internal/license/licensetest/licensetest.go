// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package licensetest signs licenses for tests.
package licensetest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licman/internal/license"
)

const DefaultKeyID = "test-key"

// Signer holds a throwaway Ed25519 key pair.
type Signer struct {
	KeyID   string
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func NewSigner(t testing.TB, keyID string) *Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &Signer{KeyID: keyID, Public: pub, Private: priv}
}

func (s *Signer) Keys() map[string]ed25519.PublicKey {
	return map[string]ed25519.PublicKey{s.KeyID: s.Public}
}

// EncodedKeys returns the public key the way it is written in a config file.
func (s *Signer) EncodedKeys() map[string]string {
	return map[string]string{s.KeyID: base64.StdEncoding.EncodeToString(s.Public)}
}

func (s *Signer) Decoder() *license.JWTDecoder {
	return license.NewDecoder(s.Keys())
}

// Sign returns claims as a compact license string.
func (s *Signer) Sign(t testing.TB, claims license.Claims) string {
	t.Helper()
	raw, err := s.SignWithHeader(claims, map[string]any{license.HeaderKeyID: s.KeyID})
	require.NoError(t, err)
	return raw
}

// SignWithHeader lets tests tamper with the JOSE header.
func (s *Signer) SignWithHeader(claims license.Claims, header map[string]any) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, &claims)
	delete(tok.Header, license.HeaderKeyID)
	for k, v := range header {
		tok.Header[k] = v
	}
	return tok.SignedString(s.Private)
}

func date(t time.Time) *jwt.NumericDate {
	return jwt.NewNumericDate(t)
}

func base(issued time.Time) license.Claims {
	return license.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       "lic-test",
			IssuedAt: date(issued),
		},
		Version:      "2.0.0",
		Organisation: "Acme Corp",
		LicenseType:  license.TypeCommercial,
		MaxUsers:     25,
		Roles:        map[string]int{"editor": 20, "viewer": 100},
	}
}

// Evaluation is a trial license ending at expires.
func Evaluation(issued, expires time.Time) license.Claims {
	c := base(issued)
	c.Evaluation = true
	c.LicenseExpires = date(expires)
	c.MaintenanceExpires = date(expires)
	return c
}

// Perpetual never expires; updates end at maintenance.
func Perpetual(issued, maintenance time.Time) license.Claims {
	c := base(issued)
	c.MaintenanceExpires = date(maintenance)
	return c
}

// Subscription is an ELA running until expires.
func Subscription(issued, expires time.Time) license.Claims {
	c := base(issued)
	c.Subscription = true
	c.LicenseExpires = date(expires)
	return c
}

// DataCenter is a data center term license running until expires.
func DataCenter(issued, expires time.Time) license.Claims {
	c := base(issued)
	c.DataCenter = true
	c.LicenseExpires = date(expires)
	return c
}
