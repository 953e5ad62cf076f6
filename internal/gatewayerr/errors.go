// Package gatewayerr implements the gateway's error taxonomy: one typed
// error (Kind/Message/Context/Err) carrying the HTTP status it maps to,
// covering the full kind set the gateway needs.
package gatewayerr

import "fmt"

// Kind identifies an error category from the gateway's taxonomy.
type Kind string

const (
	ValidationFailed      Kind = "validation_failed"
	AuthMissing           Kind = "auth_missing"
	TokenInvalid          Kind = "token_invalid"
	BudgetExceededKind    Kind = "budget_exceeded"
	DelegateNotPermitted  Kind = "delegate_not_permitted"
	ModelNotAllowed       Kind = "model_not_allowed"
	SecretNotFound        Kind = "secret_not_found"
	NotRegistered         Kind = "not_registered"
	UpstreamTimeout       Kind = "upstream_timeout"
	RateLimited           Kind = "rate_limited"
	DecryptionFailed      Kind = "decryption_failed"
	InternalError         Kind = "internal_error"
	ProviderErrorKind     Kind = "provider_error"
	TrustRootUnavailable  Kind = "trust_root_unavailable"
	NoProvider            Kind = "no_provider"
)

var statusByKind = map[Kind]int{
	ValidationFailed:     400,
	AuthMissing:          401,
	TokenInvalid:         401,
	BudgetExceededKind:   402,
	DelegateNotPermitted: 403,
	ModelNotAllowed:      403,
	SecretNotFound:       404,
	NotRegistered:        404,
	UpstreamTimeout:      408,
	RateLimited:          429,
	DecryptionFailed:     500,
	InternalError:        500,
	ProviderErrorKind:    502,
	TrustRootUnavailable: 503,
	NoProvider:           502,
}

// Error is the gateway's single error type. Context carries arbitrary
// extra fields surfaced in the client error envelope (§7: "{error:{type,
// message, ...context}}").
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code this error kind maps to (§7).
func (e *Error) HTTPStatus() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return 500
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithContext attaches context fields and returns the same *Error for
// chaining at the call site.
func (e *Error) WithContext(ctx map[string]any) *Error {
	e.Context = ctx
	return e
}

// As is a small helper so callers can type-switch without importing
// "errors" themselves in the common case.
func As(err error) (*Error, bool) {
	ge, ok := err.(*Error)
	return ge, ok
}
