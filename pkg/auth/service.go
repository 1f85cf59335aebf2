package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/nexora-systems/registry-central/pkg/registryerr"
	"github.com/nexora-systems/registry-central/pkg/store"
)

// SessionTTL is the lifetime of a session token.
const SessionTTL = 24 * time.Hour

// ExecKeyTTL is the lifetime of a minted execution key.
const ExecKeyTTL = 5 * time.Minute

// CallerStore is the subset of store.Store the identity service depends on.
type CallerStore interface {
	UpsertCaller(ctx context.Context, c *store.Caller) (*store.Caller, error)
	GetCallerByID(ctx context.Context, callerID string) (*store.Caller, error)
	FindCallersByPrefix(ctx context.Context, callerType store.CallerType, prefix string) ([]*store.Caller, error)
	SetCallerToken(ctx context.Context, callerID, jwtToken string, expiresAt time.Time) error
}

// Service implements the Identity & Key Service: caller resolution with
// anti-spoofing, session token issuance/verification, provider-secret
// encryption at rest, and execution-key minting.
type Service struct {
	store        CallerStore
	masterSecret string
}

// New builds a Service. masterSecret is the registry's JWT_SECRET, read
// once at startup and cached in process memory; rotation requires a
// restart.
func New(store CallerStore, masterSecret string) *Service {
	return &Service{store: store, masterSecret: masterSecret}
}

// Claims is the decoded payload of a verified session token.
type Claims struct {
	CallerID   string
	Type       store.CallerType
	Identifier string
}

// ResolveCaller looks up or creates the Caller row for identity, enforcing
// the anti-spoofing rule: a client-id prefix already bound to a different
// identifier of the same type is rejected with IDENTITY_MISMATCH.
func (s *Service) ResolveCaller(ctx context.Context, callerType store.CallerType, identifier string) (*store.Caller, error) {
	if prefix, ok := ClientIDPrefix(identifier); ok {
		existing, err := s.store.FindCallersByPrefix(ctx, callerType, prefix)
		if err != nil {
			return nil, registryerr.Wrap(registryerr.KindInternal, "lookup caller prefix", err)
		}
		for _, c := range existing {
			if c.Identifier != identifier {
				return nil, registryerr.New(registryerr.KindIdentityMismatch,
					fmt.Sprintf("client id %q already bound to a different origin", prefix))
			}
		}
	}

	id := CallerID(callerType, identifier)
	caller, err := s.store.UpsertCaller(ctx, &store.Caller{
		CallerID:   id,
		Type:       callerType,
		Identifier: identifier,
	})
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindInternal, "resolve caller", err)
	}
	return caller, nil
}

// IssueSessionToken mints a 24h bearer token for caller, storing audit
// material on the Caller row:
//   - provider: encrypts providerSecret (required) and stores the
//     ciphertext, rotating any prior value.
//   - consumer: stores the SHA-256 hash of the issued token, for audit only.
func (s *Service) IssueSessionToken(ctx context.Context, caller *store.Caller, providerSecret string) (string, time.Time, error) {
	if caller.Type == store.CallerProvider && providerSecret == "" {
		return "", time.Time{}, registryerr.Validation("provider_secret")
	}

	expiresAt := time.Now().Add(SessionTTL)
	token, err := s.sign(caller.CallerID, caller.Type, caller.Identifier, expiresAt)
	if err != nil {
		return "", time.Time{}, registryerr.Wrap(registryerr.KindInternal, "sign session token", err)
	}

	var stored string
	if caller.Type == store.CallerProvider {
		stored, err = EncryptProviderSecret(s.masterSecret, providerSecret)
		if err != nil {
			return "", time.Time{}, registryerr.Wrap(registryerr.KindInternal, "encrypt provider secret", err)
		}
	} else {
		stored = hashToken(token)
	}

	if err := s.store.SetCallerToken(ctx, caller.CallerID, stored, expiresAt); err != nil {
		return "", time.Time{}, registryerr.Wrap(registryerr.KindInternal, "persist caller token", err)
	}
	return token, expiresAt, nil
}

func (s *Service) sign(callerID string, callerType store.CallerType, identifier string, expiresAt time.Time) (string, error) {
	token, err := jwt.NewBuilder().
		Claim("caller_id", callerID).
		Claim("type", string(callerType)).
		Claim("identifier", identifier).
		IssuedAt(time.Now()).
		Expiration(expiresAt).
		Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(s.masterSecret)))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// Verify parses and validates a session token, returning its claims. Any
// signature, expiry, or shape failure maps to AUTH_INVALID.
func (s *Service) Verify(rawToken string) (Claims, error) {
	tok, err := jwt.Parse([]byte(rawToken), jwt.WithKey(jwa.HS256, []byte(s.masterSecret)), jwt.WithValidate(true))
	if err != nil {
		return Claims{}, registryerr.Wrap(registryerr.KindAuthInvalid, "invalid or expired token", err)
	}

	callerID, _ := tok.Get("caller_id")
	callerType, _ := tok.Get("type")
	identifier, _ := tok.Get("identifier")

	callerIDStr, _ := callerID.(string)
	callerTypeStr, _ := callerType.(string)
	identifierStr, _ := identifier.(string)
	if callerIDStr == "" || callerTypeStr == "" {
		return Claims{}, registryerr.New(registryerr.KindAuthInvalid, "token missing required claims")
	}

	return Claims{
		CallerID:   callerIDStr,
		Type:       store.CallerType(callerTypeStr),
		Identifier: identifierStr,
	}, nil
}

// ExecutionKey is a minted, stateless bearer credential a consumer presents
// directly to a provider's /execute endpoint.
type ExecutionKey struct {
	Key       string
	ExpiresAt time.Time
}

// MintExecutionKey signs a 5-minute execution key for (consumerCallerID,
// agentID), scoped to the agent's owning provider. It decrypts the
// provider's secret from providerCaller (nil if unknown) and signs with it;
// if decryption fails or providerCaller is nil, it falls back to signing
// with the master secret -- a deliberate trade-off:
// minting always succeeds, but the provider will reject the key unless it
// happens to share the master secret.
func (s *Service) MintExecutionKey(consumerCallerID, agentID string, providerCaller *store.Caller) (ExecutionKey, error) {
	keyID, err := RandomKeyID()
	if err != nil {
		return ExecutionKey{}, registryerr.Wrap(registryerr.KindInternal, "generate key id", err)
	}

	signingSecret := s.masterSecret
	if providerCaller != nil && providerCaller.JWTToken != "" {
		if secret, err := DecryptProviderSecret(s.masterSecret, providerCaller.JWTToken); err == nil {
			signingSecret = secret
		}
	}

	expiresAt := time.Now().Add(ExecKeyTTL)
	token, err := jwt.NewBuilder().
		Claim("consumer_caller_id", consumerCallerID).
		Claim("agent_id", agentID).
		Claim("key_id", keyID).
		IssuedAt(time.Now()).
		Expiration(expiresAt).
		Build()
	if err != nil {
		return ExecutionKey{}, registryerr.Wrap(registryerr.KindInternal, "build execution key", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(signingSecret)))
	if err != nil {
		return ExecutionKey{}, registryerr.Wrap(registryerr.KindInternal, "sign execution key", err)
	}
	return ExecutionKey{Key: string(signed), ExpiresAt: expiresAt}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ErrProviderSecretRequired is returned when a provider token request
// omits the x-provider-secret header.
var ErrProviderSecretRequired = errors.New("auth: provider secret required")
