package httpapi

import "net/http"

// logout отзывает bearer-токен. Отзыв виден всем инстансам через общее хранилище.
func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeProblem(w, http.StatusBadRequest, "token_required", "bearer token is required")
		return
	}
	if a.revocations == nil {
		writeProblem(w, http.StatusServiceUnavailable, "revocation_unavailable", "token revocation is not configured")
		return
	}
	if err := a.revocations.Revoke(r.Context(), hashToken(token), a.revokeTTL); err != nil {
		a.logger.WithError(err).Error("token revoke failed")
		writeProblem(w, http.StatusServiceUnavailable, "revocation_unavailable", "token revocation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
