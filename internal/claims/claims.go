// Package claims extracts and validates the signed token wasmCloud-style
// artifacts embed in a custom section, gating execution on its temporal
// and signature properties (spec §4.B).
package claims

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wasmhost/actorcore/internal/artifact"
)

// sectionName is the custom section wasmCloud's "wascap" convention
// embeds the signed actor token under.
const sectionName = "jwt"

// Claims is the structured record validated out of an artifact's
// embedded token.
type Claims struct {
	Issuer    string
	Subject   string
	NotBefore time.Time
	Expires   time.Time
}

// Keyring resolves a token issuer to the public key that should have
// signed it. Injected rather than global so Validate stays a pure
// function of (bytes, now, trusted keys), per the design note in spec §9.
type Keyring interface {
	Lookup(issuer string) (ed25519.PublicKey, bool)
}

// MapKeyring is the trivial in-memory Keyring most callers need.
type MapKeyring map[string]ed25519.PublicKey

func (m MapKeyring) Lookup(issuer string) (ed25519.PublicKey, bool) {
	pk, ok := m[issuer]
	return pk, ok
}

// InvalidReason categorizes why a token failed validation.
type InvalidReason uint8

const (
	ReasonExpired InvalidReason = iota
	ReasonNotYetValid
	ReasonBadSignature
)

func (r InvalidReason) String() string {
	switch r {
	case ReasonExpired:
		return "expired"
	case ReasonNotYetValid:
		return "not yet valid"
	default:
		return "invalid signature"
	}
}

// TokenInvalidError is returned when an embedded token was found but
// failed validation. It satisfies spec §7's LoadError.TokenInvalid kind.
type TokenInvalidError struct {
	Reason         InvalidReason
	NotBeforeHuman string
	ExpiresHuman   string
	cause          error
}

func (e *TokenInvalidError) Error() string {
	switch e.Reason {
	case ReasonExpired:
		return fmt.Sprintf("claims: token expired at %s", e.ExpiresHuman)
	case ReasonNotYetValid:
		return fmt.Sprintf("claims: token cannot be used before %s", e.NotBeforeHuman)
	default:
		return "claims: signature is not valid"
	}
}

func (e *TokenInvalidError) Unwrap() error { return e.cause }

// ErrClaimsExtractFailed wraps any error encountered while locating or
// decoding the embedded token (distinct from the token being absent,
// which is not an error — see Extract).
var ErrClaimsExtractFailed = errors.New("claims: failed to extract embedded token")

// Extract returns the raw embedded JWT and true if the artifact carries
// one, or ("", false, nil) if it carries none at all. A structurally
// malformed artifact or corrupt section yields a non-nil error.
func Extract(wasm []byte) (string, bool, error) {
	payload, err := artifact.FindCustomSection(wasm, sectionName)
	if errors.Is(err, artifact.ErrSectionNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrClaimsExtractFailed, err)
	}
	return string(payload), true, nil
}

// Validate parses and validates a raw JWT against now and keyring,
// enforcing the order spec §4.B requires: expiry, then not-before, then
// signature.
func Validate(tokenString string, now time.Time, keyring Keyring) (*Claims, error) {
	// The temporal checks run on the unverified claims first, so an expired
	// or not-yet-valid token is reported as such whatever its signature.
	var unverified jwt.MapClaims
	if _, _, perr := jwt.NewParser().ParseUnverified(tokenString, &unverified); perr == nil {
		nb, exp := timesFromClaims(unverified)
		if !exp.IsZero() && !now.Before(exp) {
			return nil, &TokenInvalidError{Reason: ReasonExpired, ExpiresHuman: exp.Format(time.RFC3339), cause: jwt.ErrTokenExpired}
		}
		if !nb.IsZero() && now.Before(nb) {
			return nil, &TokenInvalidError{Reason: ReasonNotYetValid, NotBeforeHuman: nb.Format(time.RFC3339), cause: jwt.ErrTokenNotValidYet}
		}
	}

	var mapClaims jwt.MapClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	token, err := parser.ParseWithClaims(tokenString, &mapClaims, func(t *jwt.Token) (interface{}, error) {
		iss, claimErr := mapClaims.GetIssuer()
		if claimErr != nil || iss == "" {
			return nil, fmt.Errorf("claims: token carries no issuer")
		}
		pk, ok := keyring.Lookup(iss)
		if !ok {
			return nil, fmt.Errorf("claims: unknown issuer %q", iss)
		}
		return pk, nil
	})

	notBefore, expires := timesFromClaims(mapClaims)

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, &TokenInvalidError{Reason: ReasonExpired, ExpiresHuman: expires.Format(time.RFC3339), cause: err}
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return nil, &TokenInvalidError{Reason: ReasonNotYetValid, NotBeforeHuman: notBefore.Format(time.RFC3339), cause: err}
	case err != nil:
		return nil, &TokenInvalidError{Reason: ReasonBadSignature, cause: err}
	case !token.Valid:
		return nil, &TokenInvalidError{Reason: ReasonBadSignature}
	}

	issuer, _ := mapClaims.GetIssuer()
	subject, _ := mapClaims.GetSubject()

	return &Claims{
		Issuer:    issuer,
		Subject:   subject,
		NotBefore: notBefore,
		Expires:   expires,
	}, nil
}

func timesFromClaims(mapClaims jwt.MapClaims) (notBefore, expires time.Time) {
	if nbf, err := mapClaims.GetNotBefore(); err == nil && nbf != nil {
		notBefore = nbf.Time
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		expires = exp.Time
	}
	return notBefore, expires
}

// ExtractAndValidate combines Extract and Validate: it returns
// (nil, nil) when the artifact carries no claims at all, a non-nil
// *Claims on success, or an error otherwise. This is the precondition
// wasm.Load gates on (spec §4.B/§4.C).
func ExtractAndValidate(wasm []byte, now time.Time, keyring Keyring) (*Claims, error) {
	tok, ok, err := Extract(wasm)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return Validate(tok, now, keyring)
}
