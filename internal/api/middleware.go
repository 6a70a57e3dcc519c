/**
 * @description
 * Authentication and authorization middleware for the settlement service. Bearer
 * tokens are either HS256 signed with JWT_SECRET or RS256 signed by a key published
 * at JWKS_URL. The `sub` claim must be the user's UUID.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and validation.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/domain"
)

type contextKey string

const userIDContextKey = contextKey("userID")

var (
	errMissingToken  = errors.New("authorization header required")
	errMalformedAuth = errors.New("invalid authorization header format")
)

// AuthOptions selects the token verification mode. A secret takes precedence over JWKS.
type AuthOptions struct {
	Secret   string
	JWKSURL  string
	Audience string
	Issuer   string
}

// Authenticator validates bearer tokens and caches the JWKS key set.
type Authenticator struct {
	opts   AuthOptions
	client *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	keysTTL   time.Duration
}

func NewAuthenticator(opts AuthOptions) *Authenticator {
	return &Authenticator{
		opts:    opts,
		client:  &http.Client{Timeout: 10 * time.Second},
		keys:    map[string]*rsa.PublicKey{},
		keysTTL: 10 * time.Minute,
	}
}

// Enabled reports whether any verification mode is configured.
func (a *Authenticator) Enabled() bool {
	return strings.TrimSpace(a.opts.Secret) != "" || strings.TrimSpace(a.opts.JWKSURL) != ""
}

// RequireAuth rejects requests without a valid bearer token.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: domain.KindUnauthorized, Message: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDContextKey, userID)))
	})
}

// OptionalAuth attaches the user when a valid token is present. A present but
// invalid token is still rejected.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.authenticate(r)
		if errors.Is(err, errMissingToken) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: domain.KindUnauthorized, Message: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDContextKey, userID)))
	})
}

// AdminChecker answers whether a user is listed in admin_users.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(checker AdminChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: domain.KindUnauthorized, Message: "Authentication required"})
				return
			}
			isAdmin, err := checker.IsAdmin(r.Context(), userID)
			if err != nil {
				log.Printf("level=error component=api msg=\"admin lookup failed\" user_id=%s err=%v", userID, err)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: domain.KindInternal, Message: "Could not verify admin access"})
				return
			}
			if !isAdmin {
				writeJSON(w, http.StatusForbidden, errorResponse{Error: domain.KindForbidden, Message: "Admin access required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext returns the authenticated user id.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDContextKey).(uuid.UUID)
	return userID, ok
}

func (a *Authenticator) authenticate(r *http.Request) (uuid.UUID, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return uuid.Nil, errMissingToken
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
		return uuid.Nil, errMalformedAuth
	}
	if !a.Enabled() {
		return uuid.Nil, errors.New("authentication is not configured")
	}

	var parserOpts []jwt.ParserOption
	if a.opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(a.opts.Audience))
	}
	if a.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.opts.Issuer))
	}

	token, err := jwt.Parse(tokenString, a.keyFunc, parserOpts...)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return uuid.Nil, errors.New("user id not found in token")
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, errors.New("token subject is not a user id")
	}
	return userID, nil
}

func (a *Authenticator) keyFunc(token *jwt.Token) (interface{}, error) {
	if secret := strings.TrimSpace(a.opts.Secret); secret != "" {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}

	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("kid not found in token header")
	}
	publicKey, err := a.publicKey(kid)
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	return publicKey, nil
}

// publicKey serves kid from the cache, refetching the set when the entry is missing
// or the cache has expired.
func (a *Authenticator) publicKey(kid string) (*rsa.PublicKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if key, ok := a.keys[kid]; ok && time.Since(a.fetchedAt) < a.keysTTL {
		return key, nil
	}
	keys, err := fetchJWKS(a.client, a.opts.JWKSURL)
	if err != nil {
		return nil, err
	}
	a.keys = keys
	a.fetchedAt = time.Now()

	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

func fetchJWKS(client *http.Client, jwksURL string) (map[string]*rsa.PublicKey, error) {
	resp, err := client.Get(jwksURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			log.Printf("level=warn component=api msg=\"skipping malformed jwk\" kid=%s err=%v", key.Kid, err)
			continue
		}
		keys[key.Kid] = pub
	}
	return keys, nil
}

func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	if exp == 0 {
		return nil, errors.New("zero exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}
