// Package auth is the identity-verifier boundary. It exchanges a bearer
// credential for a stable subject id and nothing else: roles always come
// from the user directory, never from token claims. Every verifier failure
// collapses to a single generic 401 so no backend detail leaks.
package auth

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"mcpcms/pkg/httpx"
)

// Principal is the verified caller identity placed on the request context.
type Principal struct {
	Subject string
}

type contextKey string

const principalContextKey contextKey = "mcpcms.principal"

type Config struct {
	JWKSURL     string
	Issuer      string
	Audience    string
	VerifierURL string
	Timeout     time.Duration
	Retries     int
	RetryDelay  time.Duration
	Client      *http.Client
}

type Option func(*Config)

func WithJWKS(url string) Option {
	return func(cfg *Config) { cfg.JWKSURL = strings.TrimSpace(url) }
}

func WithIssuer(issuer string) Option {
	return func(cfg *Config) { cfg.Issuer = strings.TrimSpace(issuer) }
}

func WithAudience(audience string) Option {
	return func(cfg *Config) { cfg.Audience = strings.TrimSpace(audience) }
}

func WithVerifierURL(url string) Option {
	return func(cfg *Config) { cfg.VerifierURL = strings.TrimSpace(url) }
}

func WithTimeout(timeout time.Duration) Option {
	return func(cfg *Config) { cfg.Timeout = timeout }
}

func WithRetries(retries int, delay time.Duration) Option {
	return func(cfg *Config) {
		cfg.Retries = retries
		cfg.RetryDelay = delay
	}
}

func WithClient(client *http.Client) Option {
	return func(cfg *Config) { cfg.Client = client }
}

// Middleware verifies the Authorization bearer credential according to mode:
// oidc_hs256, oidc_rs256 (JWKS), or remote (external verifier service).
// Mode "off" injects an anonymous principal and is guarded at startup.
func Middleware(mode, secret string, options ...Option) func(http.Handler) http.Handler {
	mode = strings.ToLower(strings.TrimSpace(mode))
	cfg := Config{Timeout: 5 * time.Second}
	for _, opt := range options {
		opt(&cfg)
	}
	if mode == "" || mode == "off" {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{Subject: "anonymous"})))
			})
		}
	}
	var keys *jwksCache
	if mode == "oidc_rs256" {
		keys = newJWKSCache(cfg.JWKSURL, cfg.Timeout)
	}
	var remote *RemoteVerifier
	if mode == "remote" {
		remote = NewRemoteVerifier(cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				httpx.Error(w, http.StatusUnauthorized, "Authentication failed", "authentication_failed")
				return
			}
			token := strings.TrimSpace(header[len("Bearer "):])
			var (
				subject string
				err     error
			)
			switch mode {
			case "oidc_hs256":
				subject, err = VerifyHS256Token(token, secret, time.Now().UTC(), cfg.Issuer, cfg.Audience)
			case "oidc_rs256":
				subject, err = VerifyRS256Token(token, time.Now().UTC(), keys, cfg.Issuer, cfg.Audience)
			case "remote":
				subject, err = remote.Verify(r.Context(), token)
			default:
				err = errors.New("unsupported auth mode")
			}
			if err != nil {
				httpx.Error(w, http.StatusUnauthorized, "Authentication failed", "authentication_failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{Subject: subject})))
		})
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalContextKey)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

type tokenClaims struct {
	Sub string
	Iss string
	Aud any
	Exp int64
	Nbf int64
}

func parseClaims(payloadRaw []byte) (tokenClaims, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payloadRaw, &raw); err != nil {
		return tokenClaims{}, err
	}
	var claims tokenClaims
	if v, ok := raw["sub"]; ok {
		_ = json.Unmarshal(v, &claims.Sub)
	}
	if v, ok := raw["iss"]; ok {
		_ = json.Unmarshal(v, &claims.Iss)
	}
	if v, ok := raw["aud"]; ok {
		var audAny any
		_ = json.Unmarshal(v, &audAny)
		claims.Aud = audAny
	}
	if v, ok := raw["exp"]; ok {
		_ = json.Unmarshal(v, &claims.Exp)
	}
	if v, ok := raw["nbf"]; ok {
		_ = json.Unmarshal(v, &claims.Nbf)
	}
	return claims, nil
}

func (c tokenClaims) validate(now time.Time, issuer, audience string) error {
	if c.Sub == "" {
		return errors.New("subject required")
	}
	if c.Exp == 0 || now.Unix() >= c.Exp {
		return errors.New("token expired")
	}
	if c.Nbf != 0 && now.Unix() < c.Nbf {
		return errors.New("token not active")
	}
	if issuer != "" && c.Iss != issuer {
		return errors.New("issuer mismatch")
	}
	if audience != "" && !audContains(c.Aud, audience) {
		return errors.New("audience mismatch")
	}
	return nil
}

// splitToken decodes the three segments of a compact token. signingInput is
// the raw "header.payload" string the signature covers.
type splitToken struct {
	signingInput string
	header       []byte
	payload      []byte
	signature    []byte
}

func decodeToken(token string) (splitToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return splitToken{}, errors.New("invalid token format")
	}
	st := splitToken{signingInput: parts[0] + "." + parts[1]}
	var err error
	if st.header, err = base64.RawURLEncoding.DecodeString(parts[0]); err != nil {
		return splitToken{}, err
	}
	if st.payload, err = base64.RawURLEncoding.DecodeString(parts[1]); err != nil {
		return splitToken{}, err
	}
	if st.signature, err = base64.RawURLEncoding.DecodeString(parts[2]); err != nil {
		return splitToken{}, err
	}
	return st, nil
}

func (st splitToken) subject(now time.Time, issuer, audience string) (string, error) {
	claims, err := parseClaims(st.payload)
	if err != nil {
		return "", err
	}
	if err := claims.validate(now, issuer, audience); err != nil {
		return "", err
	}
	return claims.Sub, nil
}

// VerifyHS256Token checks an HMAC-signed token and returns its subject.
func VerifyHS256Token(token, secret string, now time.Time, issuer, audience string) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required")
	}
	st, err := decodeToken(token)
	if err != nil {
		return "", err
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(st.header, &header); err != nil {
		return "", err
	}
	if strings.ToUpper(header.Alg) != "HS256" {
		return "", errors.New("unsupported alg")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(st.signingInput))
	if !hmac.Equal(st.signature, mac.Sum(nil)) {
		return "", errors.New("signature mismatch")
	}
	return st.subject(now, issuer, audience)
}

// VerifyRS256Token checks an RSA-signed token against the JWKS cache.
func VerifyRS256Token(token string, now time.Time, cache *jwksCache, issuer, audience string) (string, error) {
	st, err := decodeToken(token)
	if err != nil {
		return "", err
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(st.header, &header); err != nil {
		return "", err
	}
	if strings.ToUpper(header.Alg) != "RS256" {
		return "", errors.New("unsupported alg")
	}
	if strings.TrimSpace(header.Kid) == "" {
		return "", errors.New("kid required")
	}
	pub, err := cache.key(context.Background(), header.Kid, now)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(st.signingInput))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], st.signature); err != nil {
		return "", err
	}
	return st.subject(now, issuer, audience)
}

func audContains(aud any, expected string) bool {
	switch v := aud.(type) {
	case string:
		return v == expected
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == expected {
				return true
			}
		}
	}
	return false
}

type jwksCache struct {
	url       string
	timeout   time.Duration
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	client    *http.Client
}

func newJWKSCache(jwksURL string, timeout time.Duration) *jwksCache {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &jwksCache{
		url:     jwksURL,
		timeout: timeout,
		keys:    map[string]*rsa.PublicKey{},
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *jwksCache) key(ctx context.Context, kid string, now time.Time) (*rsa.PublicKey, error) {
	if c == nil {
		return nil, errors.New("jwks cache is nil")
	}
	if c.url == "" {
		return nil, errors.New("jwks url is required")
	}
	c.mu.RLock()
	if key, ok := c.keys[kid]; ok && now.Before(c.expiresAt) {
		c.mu.RUnlock()
		return key, nil
	}
	c.mu.RUnlock()
	if err := c.refresh(ctx, now); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	if !ok {
		return nil, errors.New("kid not found in jwks")
	}
	return key, nil
}

func (c *jwksCache) refresh(ctx context.Context, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.expiresAt) {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New("jwks fetch failed")
	}
	var payload struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	next := map[string]*rsa.PublicKey{}
	for _, k := range payload.Keys {
		if strings.ToUpper(k.Kty) != "RSA" || strings.TrimSpace(k.Kid) == "" {
			continue
		}
		pub, err := rsaFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		next[k.Kid] = pub
	}
	if len(next) == 0 {
		return errors.New("jwks has no valid rsa keys")
	}
	c.keys = next
	c.expiresAt = now.Add(5 * time.Minute)
	return nil
}

func rsaFromJWK(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	if len(eb) == 0 {
		return nil, errors.New("invalid exponent")
	}
	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e <= 1 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
