package httpapi

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// requireAdmin guards config writes with a bearer token checked against a
// bcrypt hash. An empty hash leaves the endpoints open, which is how local
// and kiosk-only deployments run.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.adminTokenHash == "" {
		return true
	}
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, "", http.StatusUnauthorized, "unauthorized", "missing admin token")
		return false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.adminTokenHash), []byte(token)); err != nil {
		writeError(w, "", http.StatusForbidden, "access_denied", "invalid admin token")
		return false
	}
	return true
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
