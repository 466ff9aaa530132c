// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license_test

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licman/internal/license"
	"github.com/autobrr/licman/internal/license/licensetest"
)

var issued = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func TestDecode_ValidLicense(t *testing.T) {
	signer := licensetest.NewSigner(t, licensetest.DefaultKeyID)
	claims := licensetest.Evaluation(issued, issued.AddDate(0, 1, 0))
	claims.Partner = "Reseller GmbH"
	claims.ServerID = "srv-1"

	raw := signer.Sign(t, claims)
	got, err := signer.Decoder().Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "lic-test", got.ID)
	assert.Equal(t, "Acme Corp", got.Organisation)
	assert.Equal(t, "Reseller GmbH", got.Partner)
	assert.Equal(t, "srv-1", got.ServerID)
	assert.True(t, got.Evaluation)
	assert.Equal(t, issued.Unix(), got.IssuedAt.Unix())
	assert.Equal(t, issued.AddDate(0, 1, 0).Unix(), got.LicenseExpires.Unix())
	assert.Equal(t, map[string]int{"editor": 20, "viewer": 100}, got.Roles)
}

func TestDecode_IgnoresWhitespace(t *testing.T) {
	signer := licensetest.NewSigner(t, licensetest.DefaultKeyID)
	raw := signer.Sign(t, licensetest.Perpetual(issued, issued.AddDate(1, 0, 0)))

	var wrapped strings.Builder
	wrapped.WriteString("\n  ")
	for i, r := range raw {
		if i > 0 && i%40 == 0 {
			wrapped.WriteString("\r\n")
		}
		wrapped.WriteRune(r)
	}
	wrapped.WriteString("\t\n")

	got, err := signer.Decoder().Decode(wrapped.String())
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Organisation)
}

func TestDecode_KeyIDIsCaseInsensitive(t *testing.T) {
	signer := licensetest.NewSigner(t, "Prod-2025")
	raw := signer.Sign(t, licensetest.Perpetual(issued, issued.AddDate(1, 0, 0)))

	decoder := license.NewDecoder(map[string]ed25519.PublicKey{"prod-2025": signer.Public})
	_, err := decoder.Decode(raw)
	require.NoError(t, err)
}

func TestDecode_ExpiredLicenseStillDecodes(t *testing.T) {
	signer := licensetest.NewSigner(t, licensetest.DefaultKeyID)
	claims := licensetest.Evaluation(issued.AddDate(-2, 0, 0), issued.AddDate(-1, 0, 0))
	claims.ExpiresAt = jwt.NewNumericDate(issued.AddDate(-1, 0, 0))

	_, err := signer.Decoder().Decode(signer.Sign(t, claims))
	require.NoError(t, err)
}

func TestDecode_Defaults(t *testing.T) {
	signer := licensetest.NewSigner(t, licensetest.DefaultKeyID)

	claims := licensetest.Subscription(issued, issued.AddDate(1, 0, 0))
	claims.LicenseType = ""
	claims.MaxUsers = 0

	got, err := signer.Decoder().Decode(signer.Sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, license.TypeCommercial, got.LicenseType)
	assert.Equal(t, license.UnlimitedUsers, got.MaxUsers)
	require.NotNil(t, got.MaintenanceExpires, "maintenance should default to the license expiry")
	assert.Equal(t, got.LicenseExpires.Unix(), got.MaintenanceExpires.Unix())
}

func TestDecode_Rejections(t *testing.T) {
	signer := licensetest.NewSigner(t, licensetest.DefaultKeyID)
	other := licensetest.NewSigner(t, licensetest.DefaultKeyID)
	decoder := signer.Decoder()

	perpetual := licensetest.Perpetual(issued, issued.AddDate(1, 0, 0))

	tests := []struct {
		name    string
		raw     func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "empty",
			raw:     func(t *testing.T) string { return " \n\t" },
			wantErr: license.ErrEmpty,
		},
		{
			name:    "garbage",
			raw:     func(t *testing.T) string { return "not-a-license" },
			wantErr: license.ErrDecode,
		},
		{
			name: "missing key id",
			raw: func(t *testing.T) string {
				raw, err := signer.SignWithHeader(perpetual, nil)
				require.NoError(t, err)
				return raw
			},
			wantErr: license.ErrMissingKeyID,
		},
		{
			name: "unknown key id",
			raw: func(t *testing.T) string {
				raw, err := signer.SignWithHeader(perpetual, map[string]any{license.HeaderKeyID: "retired"})
				require.NoError(t, err)
				return raw
			},
			wantErr: license.ErrUnknownKeyID,
		},
		{
			name:    "signed by a different key",
			raw:     func(t *testing.T) string { return other.Sign(t, perpetual) },
			wantErr: license.ErrDecode,
		},
		{
			name: "symmetric algorithm",
			raw: func(t *testing.T) string {
				tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &perpetual)
				tok.Header[license.HeaderKeyID] = licensetest.DefaultKeyID
				raw, err := tok.SignedString([]byte("shared-secret"))
				require.NoError(t, err)
				return raw
			},
			wantErr: license.ErrDecode,
		},
		{
			name: "missing version",
			raw: func(t *testing.T) string {
				c := perpetual
				c.Version = ""
				return signer.Sign(t, c)
			},
			wantErr: license.ErrMissingVersion,
		},
		{
			name: "version too old",
			raw: func(t *testing.T) string {
				c := perpetual
				c.Version = "1.9.0"
				return signer.Sign(t, c)
			},
			wantErr: license.ErrUnsupportedVersion,
		},
		{
			name: "version too new",
			raw: func(t *testing.T) string {
				c := perpetual
				c.Version = "3.0.0"
				return signer.Sign(t, c)
			},
			wantErr: license.ErrUnsupportedVersion,
		},
		{
			name: "version not semver",
			raw: func(t *testing.T) string {
				c := perpetual
				c.Version = "two"
				return signer.Sign(t, c)
			},
			wantErr: license.ErrUnsupportedVersion,
		},
		{
			name: "missing issued at",
			raw: func(t *testing.T) string {
				c := perpetual
				c.IssuedAt = nil
				return signer.Sign(t, c)
			},
			wantErr: license.ErrMissingIssuedAt,
		},
		{
			name: "missing organisation",
			raw: func(t *testing.T) string {
				c := perpetual
				c.Organisation = ""
				return signer.Sign(t, c)
			},
			wantErr: license.ErrMissingOrganisation,
		},
		{
			name: "evaluation without expiry",
			raw: func(t *testing.T) string {
				c := perpetual
				c.Evaluation = true
				return signer.Sign(t, c)
			},
			wantErr: license.ErrMissingLicenseExpires,
		},
		{
			name: "perpetual without maintenance",
			raw: func(t *testing.T) string {
				c := perpetual
				c.MaintenanceExpires = nil
				return signer.Sign(t, c)
			},
			wantErr: license.ErrMissingMaintenanceExpires,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decoder.Decode(tt.raw(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, license.ErrDecode)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParsePublicKeys(t *testing.T) {
	signer := licensetest.NewSigner(t, licensetest.DefaultKeyID)

	t.Run("standard and url alphabets", func(t *testing.T) {
		keys, err := license.ParsePublicKeys(map[string]string{
			"Std": base64.StdEncoding.EncodeToString(signer.Public),
			"url": " " + base64.RawURLEncoding.EncodeToString(signer.Public) + "\n",
		})
		require.NoError(t, err)
		assert.Len(t, keys, 2)
		assert.Equal(t, signer.Public, keys["std"])
		assert.Equal(t, signer.Public, keys["url"])
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := license.ParsePublicKeys(map[string]string{"bad": "%%%"})
		assert.Error(t, err)
	})

	t.Run("wrong size", func(t *testing.T) {
		_, err := license.ParsePublicKeys(map[string]string{"short": base64.StdEncoding.EncodeToString([]byte("short"))})
		assert.Error(t, err)
	})
}
