package shield

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// BearerAuth rejects requests whose bearer token does not match the bcrypt
// hash. Paths in exempt skip the check. Tokens that matched once are
// remembered by digest so bcrypt runs once per token, not per request.
func BearerAuth(hash string, exempt ...string) (func(http.Handler) http.Handler, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("shield: bearer hash: %w", err)
	}
	var ok sync.Map // [32]byte -> struct{}
	verify := func(token string) bool {
		key := sha256.Sum256([]byte(token))
		if _, hit := ok.Load(key); hit {
			return true
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
			return false
		}
		ok.Store(key, struct{}{})
		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range exempt {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}
			token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || token == "" || !verify(token) {
				GetLogger(r.Context()).Warn("shield: unauthorized", "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
