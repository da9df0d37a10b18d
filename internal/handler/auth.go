package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orderflow/internal/domain/auth"
)

var anonymousAdmin = &auth.Principal{KeyID: "anonymous", Name: "anonymous", Role: auth.RoleAdmin}

// authenticate resolves the API key header to a principal.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := anonymousAdmin
		if !h.cfg.AuthDisabled {
			var err error
			p, err = h.authn.Authenticate(r.Context(), r.Header.Get(h.cfg.APIKeyHeader))
			if err != nil {
				fail(w, r, err)
				return
			}
		}
		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = zctx.With(ctx, zap.String("key_id", p.KeyID), zap.String("role", string(p.Role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require rejects principals whose role lacks c.
func (h *Handler) require(c auth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				fail(w, r, auth.ErrUnauthorized)
				return
			}
			if !h.policy.Allows(p.Role, c) {
				fail(w, r, errors.Wrapf(auth.ErrForbidden, "role %s lacks %s", p.Role, c))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
