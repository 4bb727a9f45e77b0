package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/divasettle/internal/crypto"
	"github.com/alanyoungcy/divasettle/internal/domain"
)

// Headers of a signed request.
const (
	HeaderCaller    = "X-Diva-Caller"
	HeaderSignature = "X-Diva-Signature"
	HeaderTimestamp = "X-Diva-Timestamp"
	HeaderNonce     = "X-Diva-Nonce"
)

const (
	// DefaultMaxSkew bounds the distance between a request timestamp and
	// the server clock.
	DefaultMaxSkew = 5 * time.Minute

	maxSignedBody = 1 << 20
	maxNonceLen   = 128
)

type callerKey struct{}

// WithCaller returns ctx carrying an authenticated caller address.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller stored by CallerAuth.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(common.Address)
	return c, ok
}

// CallerAuthConfig configures CallerAuth.
type CallerAuthConfig struct {
	// Nonces remembers used (caller, nonce) pairs for twice MaxSkew so a
	// captured request cannot be replayed.
	Nonces  domain.LockManager
	MaxSkew time.Duration
	Now     func() time.Time
}

// CallerAuth returns middleware that authenticates the caller of a write.
// The caller signs RequestMessage with EIP-191 and sends address,
// signature, timestamp and nonce in the X-Diva-* headers. The recovered
// signer must equal X-Diva-Caller; it is then stored in the request
// context for handlers.
func CallerAuth(cfg CallerAuthConfig) func(http.Handler) http.Handler {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = DefaultMaxSkew
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := authenticate(cfg, r)
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func authenticate(cfg CallerAuthConfig, r *http.Request) (common.Address, error) {
	claimed := r.Header.Get(HeaderCaller)
	if !common.IsHexAddress(claimed) {
		return common.Address{}, errors.New("missing or invalid " + HeaderCaller)
	}
	caller := common.HexToAddress(claimed)

	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return common.Address{}, errors.New("missing or invalid " + HeaderTimestamp)
	}
	skew := cfg.Now().Sub(time.Unix(ts, 0))
	if skew > cfg.MaxSkew || skew < -cfg.MaxSkew {
		return common.Address{}, errors.New("request timestamp outside the accepted window")
	}

	nonce := r.Header.Get(HeaderNonce)
	if nonce == "" || len(nonce) > maxNonceLen {
		return common.Address{}, errors.New("missing or invalid " + HeaderNonce)
	}

	sig, err := crypto.ParseSignature(r.Header.Get(HeaderSignature))
	if err != nil {
		return common.Address{}, errors.New("missing or invalid " + HeaderSignature)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
	if err != nil {
		return common.Address{}, fmt.Errorf("read body: %v", err)
	}
	if len(body) > maxSignedBody {
		return common.Address{}, errors.New("request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	digest := crypto.RequestDigest(r.Method, r.URL.RequestURI(), ts, nonce, body)
	if err := crypto.VerifySignature(digest, sig, caller); err != nil {
		return common.Address{}, errors.New("request signature does not match " + HeaderCaller)
	}

	if cfg.Nonces != nil {
		// The lock is never released; it expires after the replay window.
		if _, err := cfg.Nonces.Acquire(r.Context(), "nonce:"+caller.Hex()+":"+nonce, 2*cfg.MaxSkew); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return common.Address{}, errors.New("request nonce already used")
			}
			return common.Address{}, fmt.Errorf("nonce check: %v", err)
		}
	}
	return caller, nil
}
