/**
 * @description
 * Authentication middleware for the billing API. Merchant requests carry a
 * bearer JWT whose subject is the merchant's user id; server-to-server calls
 * carry the X-Internal-API-Key header.
 *
 * @notes
 * - With a shared secret configured, tokens are verified as HS256. Otherwise
 *   the RSA key is looked up by kid in the JWKS document.
 */
package api

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

type contextKey string

// UserIDContextKey is the key used to store the user ID in the request context.
const UserIDContextKey = contextKey("userID")

// AuthConfig selects how bearer tokens are verified.
type AuthConfig struct {
	JWTSecret string
	JWKSURL   string
	Audience  string
	Issuer    string
}

// AuthMiddleware validates bearer JWTs and injects the user ID into context.
func AuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	keys := newJWKSCache(cfg.JWKSURL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if cfg.JWTSecret != "" {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
					}
					return []byte(cfg.JWTSecret), nil
				}

				if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, fmt.Errorf("kid not found in token header")
				}
				return keys.get(r.Context(), kid)
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Invalid token claims")
				return
			}
			if cfg.Audience != "" && !hasAudience(claims, cfg.Audience) {
				writeError(w, http.StatusUnauthorized, "Invalid audience")
				return
			}
			if cfg.Issuer != "" {
				if iss, _ := claims.GetIssuer(); iss != cfg.Issuer {
					writeError(w, http.StatusUnauthorized, "Invalid issuer")
					return
				}
			}

			userID, err := claims.GetSubject()
			if err != nil || userID == "" {
				writeError(w, http.StatusUnauthorized, "User ID not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasAudience(claims jwt.MapClaims, expected string) bool {
	aud, err := claims.GetAudience()
	if err != nil {
		return false
	}
	for _, a := range aud {
		if a == expected {
			return true
		}
	}
	return false
}

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
// An empty key disables the check.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext retrieves the user ID from the request context.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(string)
	return userID, ok
}

const (
	jwksRefreshInterval = 10 * time.Minute
	// jwksMinRefetchInterval bounds refetches triggered by unknown kids.
	jwksMinRefetchInterval = time.Minute
)

// jwksCache keeps parsed RSA keys by kid and refetches on a miss, at most once
// per jwksMinRefetchInterval.
type jwksCache struct {
	url    string
	client *http.Client
	group  singleflight.Group

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	attemptedAt time.Time
}

func newJWKSCache(url string) *jwksCache {
	return &jwksCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   make(map[string]*rsa.PublicKey),
	}
}

func (c *jwksCache) lookup(kid string) (key *rsa.PublicKey, fresh, canRefetch bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key = c.keys[kid]
	fresh = key != nil && time.Since(c.fetchedAt) < jwksRefreshInterval
	canRefetch = c.attemptedAt.IsZero() || time.Since(c.attemptedAt) >= jwksMinRefetchInterval
	return key, fresh, canRefetch
}

func (c *jwksCache) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	key, fresh, canRefetch := c.lookup(kid)
	if fresh {
		return key, nil
	}
	if c.url == "" {
		return nil, fmt.Errorf("no JWKS URL configured")
	}
	if !canRefetch {
		if key != nil {
			return key, nil
		}
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}

	_, err, _ := c.group.Do("jwks", func() (interface{}, error) {
		c.mu.Lock()
		if !c.attemptedAt.IsZero() && time.Since(c.attemptedAt) < jwksMinRefetchInterval {
			c.mu.Unlock()
			return nil, nil
		}
		c.attemptedAt = time.Now()
		c.mu.Unlock()

		keys, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		if key != nil {
			return key, nil
		}
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	if key, _, _ = c.lookup(kid); key == nil {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

func (c *jwksCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks returned status %d", resp.StatusCode)
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
			return nil, err
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

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}
