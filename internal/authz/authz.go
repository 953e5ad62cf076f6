// Package authz implements the optional Authorization Adapter (C10): a
// trust-root client contract for per-request provider key retrieval, NaCl
// sealed-box-style envelope decryption, and a fail-closed error taxonomy.
package authz

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/taipm/llm-gateway/internal/gatewayerr"
	"github.com/taipm/llm-gateway/internal/providers"
)

// decodeEnvelope unmarshals the raw ciphertext bytes returned by
// get_secret_ciphertext into an Envelope. Go's encoding/json base64-decodes
// JSON string values into []byte fields automatically, so the wire form's
// pk/nonce/data fields are plain base64 strings.
func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// TrustRoot is the external collaborator contract spec.md §4.6 names. A
// real implementation talks to an HTTP (or otherwise remote) service; this
// package only defines the shape and the in-process decrypt step.
type TrustRoot interface {
	IsDelegatePermitted(ctx context.Context, owner, delegate string) (bool, error)
	IsModelPermitted(ctx context.Context, owner, providerID, modelID string) (bool, error)
	GetSecretCiphertext(ctx context.Context, owner, providerID string) (Ciphertext, error)
	EmitUsageReceipt(ctx context.Context, r UsageReceipt) error
}

// Ciphertext is what get_secret_ciphertext returns.
type Ciphertext struct {
	Ciphertext   []byte
	SecretVersion string
	Exists       bool
	KeyVersion   string
}

// UsageReceipt is emitted after a successful upstream response.
type UsageReceipt struct {
	RequestHash      string
	Owner            string
	Delegate         string
	ProviderID       string
	ModelID          string
	PromptTokens     int
	CompletionTokens int
}

// Envelope is the tagged ciphertext format: {format=1, body:{pk(32B),
// nonce, data, epoch?}}. pk is the sender's ephemeral curve25519 public
// key, nonce is the 24-byte xsalsa20poly1305 nonce, and data is the sealed
// box. Epoch optionally identifies which process-local private key
// version to decrypt with, for key rotation.
type Envelope struct {
	Format int    `json:"format"`
	Body   Body   `json:"body"`
}

type Body struct {
	PK    []byte `json:"pk"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
	Epoch *int   `json:"epoch,omitempty"`
}

// KeyRing resolves a process-local private key for a given epoch, so
// rotated keys stay decryptable for ciphertexts minted before rotation.
type KeyRing struct {
	current int
	keys    map[int]*[32]byte
}

// NewKeyRing builds a ring seeded with one current private key at epoch 0.
func NewKeyRing(privateKey *[32]byte) *KeyRing {
	return &KeyRing{current: 0, keys: map[int]*[32]byte{0: privateKey}}
}

// AddEpoch registers an older private key under a prior epoch number.
func (k *KeyRing) AddEpoch(epoch int, privateKey *[32]byte) {
	k.keys[epoch] = privateKey
}

func (k *KeyRing) resolve(epoch *int) (*[32]byte, bool) {
	e := k.current
	if epoch != nil {
		e = *epoch
	}
	pk, ok := k.keys[e]
	return pk, ok
}

// Decrypt opens a sealed-box envelope and returns the plaintext API key
// bytes. Unrecognized format, bad shapes, or a box.Open failure all map to
// DecryptionFailed(500) — this path never distinguishes "tampered" from
// "wrong key" to the caller (spec.md §4.6).
func Decrypt(env Envelope, ring *KeyRing) (string, error) {
	if env.Format != 1 {
		return "", gatewayerr.New(gatewayerr.DecryptionFailed, fmt.Sprintf("unsupported envelope format %d", env.Format))
	}
	if len(env.Body.PK) != 32 || len(env.Body.Nonce) != 24 {
		return "", gatewayerr.New(gatewayerr.DecryptionFailed, "malformed envelope: pk or nonce has wrong length")
	}

	priv, ok := ring.resolve(env.Body.Epoch)
	if !ok {
		return "", gatewayerr.New(gatewayerr.DecryptionFailed, "no private key for envelope epoch")
	}

	var senderPK [32]byte
	copy(senderPK[:], env.Body.PK)
	var nonce [24]byte
	copy(nonce[:], env.Body.Nonce)

	plain, ok := box.Open(nil, env.Body.Data, &nonce, &senderPK, priv)
	if !ok {
		return "", gatewayerr.New(gatewayerr.DecryptionFailed, "sealed box authentication failed")
	}
	return string(plain), nil
}

// DecodeBase64Field is a small helper for trust-root transports that
// base64-encode the pk/nonce/data fields over JSON (the common wire
// shape), since Envelope itself expects raw bytes.
func DecodeBase64Field(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// KeySource adapts Resolver to providers.KeySource, so the router/provider
// layer can ask for a key without knowing about trust roots at all.
type KeySource struct {
	Resolver *Resolver
	Owner    string
	Delegate string
}

var _ providers.KeySource = (*KeySource)(nil)

// APIKey satisfies providers.KeySource. It swallows errors into ok=false
// (callers fall back to AuthMissing) rather than propagating — full error
// detail is available via Resolver.Resolve for callers that need it.
func (k *KeySource) APIKey(ctx context.Context, provider string) (string, bool) {
	key, err := k.Resolver.Resolve(ctx, k.Owner, k.Delegate, provider, "")
	if err != nil {
		return "", false
	}
	return key, true
}

// Resolver runs the full check chain spec.md §4.6 describes: delegate
// permission, model permission (when a model is known), secret retrieval,
// and decryption. No caching — every call performs every step.
type Resolver struct {
	Root    TrustRoot
	KeyRing *KeyRing
}

// NewResolver builds a Resolver bound to a trust root and key ring.
func NewResolver(root TrustRoot, ring *KeyRing) *Resolver {
	return &Resolver{Root: root, KeyRing: ring}
}

// Resolve performs the full authorization chain and returns the decrypted
// API key. modelID may be empty to skip the model-permission check (used
// by KeySource.APIKey, which resolves before routing has picked a model).
func (r *Resolver) Resolve(ctx context.Context, owner, delegate, providerID, modelID string) (string, error) {
	permitted, err := r.Root.IsDelegatePermitted(ctx, owner, delegate)
	if err != nil {
		return "", gatewayerr.Wrap(gatewayerr.TrustRootUnavailable, "check delegate permission", err)
	}
	if !permitted {
		return "", gatewayerr.New(gatewayerr.DelegateNotPermitted,
			fmt.Sprintf("delegate %q is not permitted to act for owner %q", delegate, owner))
	}

	if modelID != "" {
		allowed, err := r.Root.IsModelPermitted(ctx, owner, providerID, modelID)
		if err != nil {
			return "", gatewayerr.Wrap(gatewayerr.TrustRootUnavailable, "check model permission", err)
		}
		if !allowed {
			return "", gatewayerr.New(gatewayerr.ModelNotAllowed,
				fmt.Sprintf("model %q on provider %q is not permitted for owner %q", modelID, providerID, owner))
		}
	}

	ct, err := r.Root.GetSecretCiphertext(ctx, owner, providerID)
	if err != nil {
		return "", gatewayerr.Wrap(gatewayerr.TrustRootUnavailable, "fetch secret ciphertext", err)
	}
	if !ct.Exists {
		return "", gatewayerr.New(gatewayerr.SecretNotFound,
			fmt.Sprintf("no secret registered for owner %q provider %q", owner, providerID))
	}

	env, err := decodeEnvelope(ct.Ciphertext)
	if err != nil {
		return "", gatewayerr.Wrap(gatewayerr.DecryptionFailed, "decode envelope", err)
	}
	return Decrypt(env, r.KeyRing)
}

// EmitReceipt sends a post-success usage receipt. Failures are logged by
// the caller and never fail the user request (spec.md §4.6).
func (r *Resolver) EmitReceipt(ctx context.Context, receipt UsageReceipt) error {
	return r.Root.EmitUsageReceipt(ctx, receipt)
}
