package claims

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, priv ed25519.PrivateKey, issuer, subject string, notBefore, expires time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"iss": issuer,
		"sub": subject,
		"nbf": jwt.NewNumericDate(notBefore),
		"exp": jwt.NewNumericDate(expires),
	})
	signed, err := tok.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestValidate_Success(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := signToken(t, priv, "issuer-1", "subject-1", now.Add(-time.Hour), now.Add(time.Hour))

	claims, err := Validate(tok, now, MapKeyring{"issuer-1": pub})
	require.NoError(t, err)
	assert.Equal(t, "issuer-1", claims.Issuer)
	assert.Equal(t, "subject-1", claims.Subject)
}

func TestValidate_Expired(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := signToken(t, priv, "issuer-1", "subject-1", now.Add(-2*time.Hour), now.Add(-time.Second))

	_, err = Validate(tok, now, MapKeyring{"issuer-1": pub})
	require.Error(t, err)
	var invalid *TokenInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonExpired, invalid.Reason)
}

func TestValidate_NotYetValid(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := signToken(t, priv, "issuer-1", "subject-1", now.Add(time.Hour), now.Add(2*time.Hour))

	_, err = Validate(tok, now, MapKeyring{"issuer-1": pub})
	require.Error(t, err)
	var invalid *TokenInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonNotYetValid, invalid.Reason)
}

func TestValidate_BadSignature(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wrongPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := signToken(t, priv, "issuer-1", "subject-1", now.Add(-time.Hour), now.Add(time.Hour))

	_, err = Validate(tok, now, MapKeyring{"issuer-1": wrongPub})
	require.Error(t, err)
	var invalid *TokenInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonBadSignature, invalid.Reason)
}

func TestValidate_UnknownIssuer(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := signToken(t, priv, "issuer-1", "subject-1", now.Add(-time.Hour), now.Add(time.Hour))

	_, err = Validate(tok, now, MapKeyring{})
	require.Error(t, err)
	var invalid *TokenInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonBadSignature, invalid.Reason)
}

func appendVarUint32(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			return buf
		}
	}
}

func wasmWithClaims(t *testing.T, tok string) []byte {
	t.Helper()
	name := "jwt"
	var body []byte
	body = appendVarUint32(body, uint32(len(name)))
	body = append(body, []byte(name)...)
	body = append(body, []byte(tok)...)

	var section []byte
	section = append(section, 0x00)
	section = appendVarUint32(section, uint32(len(body)))
	section = append(section, body...)

	wasm := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	return append(wasm, section...)
}

func TestExtractAndValidate_NoClaimsIsNotAnError(t *testing.T) {
	wasm := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	claims, err := ExtractAndValidate(wasm, time.Now(), MapKeyring{})
	require.NoError(t, err)
	assert.Nil(t, claims)
}

func TestExtractAndValidate_EmbeddedToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := signToken(t, priv, "issuer-1", "subject-1", now.Add(-time.Hour), now.Add(time.Hour))
	wasm := wasmWithClaims(t, tok)

	claims, err := ExtractAndValidate(wasm, now, MapKeyring{"issuer-1": pub})
	require.NoError(t, err)
	require.NotNil(t, claims)
	assert.Equal(t, "issuer-1", claims.Issuer)
}
