package wasm

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/wasmhost/actorcore/internal/artifact"
	"github.com/wasmhost/actorcore/internal/claims"
	"github.com/wasmhost/actorcore/internal/config"
)

// Actor is a prepared, compiled artifact plus its optional Claims.
// Created once from bytes and instantiated many times; immutable after
// Load. The domain model calls for a tagged module/component union
// (spec §3/§9); kind is always KindModule because Load rejects
// component-encoded artifacts before compiling anything — see the
// package doc comment in instance.go.
type Actor struct {
	kind   Kind
	module *moduleActor
	claims *claims.Claims
}

// Load compiles wasmBytes through engine, gating on embedded claims per
// cfg.RequireSignature. now and keyring are injected so claims
// validation stays pure and testable (spec §9); logger is used as given,
// and Load does not substitute the global zerolog logger for a zero value.
func Load(ctx context.Context, engine *Engine, wasmBytes []byte, cfg config.Config, now config.Clock, keyring claims.Keyring, logger zerolog.Logger) (*Actor, error) {
	if len(wasmBytes) == 0 {
		return nil, &LoadError{Reason: ReasonMalformedArtifact, cause: fmt.Errorf("empty artifact")}
	}

	tok, err := validateEmbeddedClaims(wasmBytes, cfg, now, keyring)
	if err != nil {
		return nil, err
	}
	if tok != nil {
		logger.Debug().Str("issuer", tok.Issuer).Str("subject", tok.Subject).Msg("actor claims validated")
	} else {
		logger.Debug().Msg("actor has no embedded claims")
	}

	encoding := artifact.Detect(wasmBytes)
	logger.Trace().Str("encoding", encoding.String()).Msg("detected artifact encoding")

	if encoding == artifact.EncodingComponent {
		return nil, &LoadError{
			Reason: ReasonComponentEncodingUnsupported,
			cause:  fmt.Errorf("no component-model decoder is available to this host"),
		}
	}

	mod, err := newModuleActor(ctx, engine, wasmBytes)
	if err != nil {
		return nil, &LoadError{Reason: ReasonCompileFailed, cause: err}
	}
	return &Actor{kind: KindModule, module: mod, claims: tok}, nil
}

func validateEmbeddedClaims(wasmBytes []byte, cfg config.Config, now config.Clock, keyring claims.Keyring) (*claims.Claims, error) {
	if now == nil {
		now = config.SystemClock()
	}
	tok, ok, err := claims.Extract(wasmBytes)
	if err != nil {
		return nil, &LoadError{Reason: ReasonClaimsExtractFailed, cause: err}
	}
	if !ok {
		if cfg.RequireSignature {
			return nil, &LoadError{Reason: ReasonSignatureRequiredButAbsent, cause: fmt.Errorf("no embedded claims and RequireSignature is set")}
		}
		return nil, nil
	}

	validated, verr := claims.Validate(tok, now(), keyring)
	if verr != nil {
		var invalid *claims.TokenInvalidError
		if asTokenInvalid(verr, &invalid) {
			return nil, &LoadError{Reason: ReasonTokenInvalid, TokenInvalid: invalid}
		}
		return nil, &LoadError{Reason: ReasonClaimsExtractFailed, cause: verr}
	}
	return validated, nil
}

func asTokenInvalid(err error, target **claims.TokenInvalidError) bool {
	if invalid, ok := err.(*claims.TokenInvalidError); ok {
		*target = invalid
		return true
	}
	return false
}

// LoadReader reads wasm fully into memory and calls Load, mirroring
// Actor::read/Actor::read_sync in the original runtime (spec §10
// supplement — Go collapses the sync/async split into one io.Reader
// form).
func LoadReader(ctx context.Context, engine *Engine, wasm io.Reader, cfg config.Config, now config.Clock, keyring claims.Keyring, logger zerolog.Logger) (*Actor, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, wasm); err != nil {
		return nil, &LoadError{Reason: ReasonMalformedArtifact, cause: fmt.Errorf("read wasm: %w", err)}
	}
	return Load(ctx, engine, buf.Bytes(), cfg, now, keyring, logger)
}

// Claims returns the actor's validated claims, or nil if it carried
// none.
func (a *Actor) Claims() *claims.Claims { return a.claims }

// Kind reports which backend realizes this actor.
func (a *Actor) Kind() Kind { return a.kind }

// Instantiate produces a fresh Instance without consuming the Actor.
func (a *Actor) Instantiate(ctx context.Context) (*Instance, error) {
	mi, err := a.module.instantiate(ctx)
	if err != nil {
		return nil, err
	}
	return newModuleInstanceWrapper(mi), nil
}

// IntoInstance is Instantiate under another name, matching the
// original's into_instance naming for the "this is the actor's last use"
// call site (Go has no ownership transfer to express this, so it is a
// plain alias kept for readers porting call sites from the original).
func (a *Actor) IntoInstance(ctx context.Context) (*Instance, error) {
	return a.Instantiate(ctx)
}

// IntoInstanceClaims instantiates and returns the actor's claims
// alongside the fresh instance.
func (a *Actor) IntoInstanceClaims(ctx context.Context) (*Instance, *claims.Claims, error) {
	inst, err := a.Instantiate(ctx)
	if err != nil {
		return nil, nil, err
	}
	return inst, a.claims, nil
}

// Call instantiates the actor and invokes operation on the fresh
// instance in one step.
func (a *Actor) Call(ctx context.Context, operation string, request io.Reader, response io.Writer) (outer, inner error) {
	inst, err := a.Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("wasm: instantiate actor: %w", err), nil
	}
	defer inst.Close(ctx)
	return inst.Call(ctx, operation, request, response)
}

// AsGuest instantiates the actor and coerces it to a GuestInstance.
func (a *Actor) AsGuest(ctx context.Context) (*GuestInstance, error) {
	inst, err := a.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("wasm: instantiate actor: %w", err)
	}
	return inst.IntoGuest()
}

// AsIncomingHttp instantiates the actor and coerces it to an
// IncomingHttpInstance.
func (a *Actor) AsIncomingHttp(ctx context.Context) (*IncomingHttpInstance, error) {
	inst, err := a.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("wasm: instantiate actor: %w", err)
	}
	return inst.IntoIncomingHttp()
}

// AsLogging instantiates the actor and coerces it to a LoggingInstance.
func (a *Actor) AsLogging(ctx context.Context) (*LoggingInstance, error) {
	inst, err := a.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("wasm: instantiate actor: %w", err)
	}
	return inst.IntoLogging()
}

// Close releases the compiled module backing this actor.
func (a *Actor) Close(ctx context.Context) error {
	return a.module.close(ctx)
}
