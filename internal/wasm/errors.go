package wasm

import (
	"errors"
	"fmt"

	"github.com/wasmhost/actorcore/internal/claims"
)

// LoadReason discriminates why Load failed, mirroring the
// Actor::new/claims() failure taxonomy in the original runtime.
type LoadReason uint8

const (
	ReasonMalformedArtifact LoadReason = iota
	ReasonClaimsExtractFailed
	ReasonTokenInvalid
	ReasonSignatureRequiredButAbsent
	ReasonCompileFailed
	ReasonComponentEncodingUnsupported
)

func (r LoadReason) String() string {
	switch r {
	case ReasonMalformedArtifact:
		return "malformed artifact"
	case ReasonClaimsExtractFailed:
		return "claims extraction failed"
	case ReasonTokenInvalid:
		return "token invalid"
	case ReasonSignatureRequiredButAbsent:
		return "signature required but absent"
	case ReasonComponentEncodingUnsupported:
		return "component encoding unsupported"
	default:
		return "compile failed"
	}
}

// LoadError is returned by Load/LoadReader when an artifact cannot be
// turned into an Actor.
type LoadError struct {
	Reason LoadReason
	// TokenInvalid, if Reason == ReasonTokenInvalid, carries the
	// underlying claims.TokenInvalidError.
	TokenInvalid *claims.TokenInvalidError
	cause        error
}

func (e *LoadError) Error() string {
	if e.TokenInvalid != nil {
		return fmt.Sprintf("wasm: load failed: %s", e.TokenInvalid.Error())
	}
	if e.cause != nil {
		return fmt.Sprintf("wasm: load failed: %s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("wasm: load failed: %s", e.Reason)
}

func (e *LoadError) Unwrap() error {
	if e.TokenInvalid != nil {
		return e.TokenInvalid
	}
	return e.cause
}

// InstantiateReason discriminates why instantiation of a loaded Actor
// failed.
type InstantiateReason uint8

const (
	ReasonInstantiationFailed InstantiateReason = iota
	ReasonExportMissing
)

// InstantiateError is returned by Actor.Instantiate. The typed Instance
// coercion methods (IntoGuest/IntoIncomingHttp/IntoLogging) always
// succeed for the module backend and never return one.
type InstantiateError struct {
	Reason    InstantiateReason
	Interface string
	cause     error
}

func (e *InstantiateError) Error() string {
	if e.Reason == ReasonExportMissing {
		return fmt.Sprintf("wasm: instantiate failed: export missing: %s", e.Interface)
	}
	return fmt.Sprintf("wasm: instantiate failed: %v", e.cause)
}

func (e *InstantiateError) Unwrap() error { return e.cause }

// ErrExportMissing is the sentinel errors.Is callers match against
// rather than type-asserting *InstantiateError directly.
var ErrExportMissing = errors.New("wasm: export missing")

func (e *InstantiateError) Is(target error) bool {
	return e.Reason == ReasonExportMissing && target == ErrExportMissing
}
