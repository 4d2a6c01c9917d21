package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"marketplace-gateway/internal/authgate"
	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/util"
)

const adminAccessDeniedMessage = "Access denied. Admin privileges required."

// AdminHandler serves the admin session lifecycle: sign-in with role
// enforcement, session introspection, sign-out, and the second-factor
// continuation endpoint.
type AdminHandler struct {
	gate    *authgate.Gate
	cookies *authgate.CookieWriter
	logger  *zap.Logger
}

func NewAdminHandler(gate *authgate.Gate, cookies *authgate.CookieWriter, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{gate: gate, cookies: cookies, logger: logger}
}

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyMFARequest struct {
	Code string `json:"code"`
}

// Login authenticates, enforces the admin role, and records continuation
// state before any cookie is written. A caller with valid credentials but
// the wrong role never receives a usable session.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req adminLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !util.ValidEmail(req.Email) || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	session, user, err := h.gate.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, errs.ErrAuthentication) {
			respondWithError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.logger.Error("Admin authentication failed upstream", util.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Authentication temporarily unavailable")
		return
	}

	record, err := h.gate.RequireRole(ctx, session, model.RoleAdmin)
	if err != nil {
		// The gate has already revoked the session.
		switch {
		case errors.Is(err, errs.ErrNotFound):
			respondWithError(w, http.StatusNotFound, "User profile not found")
		case errors.Is(err, errs.ErrAuthorization):
			respondWithError(w, http.StatusForbidden, adminAccessDeniedMessage)
		default:
			h.logger.Error("Role verification failed", util.ErrorField(err))
			respondWithError(w, http.StatusInternalServerError, "Failed to verify privileges")
		}
		return
	}

	mfaRequired, err := h.gate.MFA().Begin(ctx, session, user)
	if err != nil {
		h.logger.Error("Failed to record MFA continuation state", util.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to establish session")
		return
	}

	h.cookies.Write(w, session)

	body := map[string]interface{}{
		"success": true,
		"user": map[string]interface{}{
			"id":    record.UserID,
			"email": record.Email,
			"name":  record.Name,
			"role":  string(record.Role),
		},
	}
	if mfaRequired {
		body["mfa_required"] = true
	}
	respondWithJSON(w, http.StatusOK, body)
}

// Session reports whether the caller holds a live admin session. The same
// role and continuation checks apply as at login; anything short of a fully
// verified admin session reads as unauthenticated, with 401 for a missing or
// dead session and 403 for one that fails the role or factor check.
func (h *AdminHandler) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session := h.sessionFromRequest(w, r)
	if session == nil {
		respondWithJSON(w, http.StatusUnauthorized, map[string]interface{}{"authenticated": false})
		return
	}

	record, err := h.gate.RequireRole(ctx, session, model.RoleAdmin)
	if err != nil {
		respondWithJSON(w, http.StatusForbidden, map[string]interface{}{"authenticated": false})
		return
	}

	if err := h.gate.MFA().Require(ctx, session.UserID); err != nil {
		respondWithJSON(w, http.StatusForbidden, map[string]interface{}{"authenticated": false})
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"user": map[string]interface{}{
			"id":    record.UserID,
			"email": record.Email,
			"name":  record.Name,
			"role":  string(record.Role),
		},
	})
}

// Logout revokes the session and clears both cookies. Clearing happens even
// when upstream revocation fails; the caller's browser must not keep tokens.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accessToken, _ := h.cookies.Read(r)
	if accessToken != "" {
		if user, err := h.gate.Introspect(ctx, accessToken); err == nil {
			session := &model.Session{UserID: user.ID, AccessToken: accessToken}
			if err := h.gate.SignOut(ctx, session); err != nil {
				h.logger.Warn("Upstream sign-out failed", util.ErrorField(err))
			}
		}
	}

	h.cookies.Clear(w)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// VerifyMFA proves the pending second factor for the current session.
func (h *AdminHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyMFARequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session := h.sessionFromRequest(w, r)
	if session == nil {
		respondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	if err := h.gate.MFA().Verify(ctx, session, req.Code); err != nil {
		switch {
		case errors.Is(err, errs.ErrValidation):
			respondWithError(w, http.StatusBadRequest, "Invalid verification code")
		case errors.Is(err, errs.ErrAuthentication):
			respondWithError(w, http.StatusUnauthorized, "Verification code rejected")
		default:
			h.logger.Error("MFA verification failed", util.ErrorField(err))
			respondWithError(w, http.StatusInternalServerError, "Verification temporarily unavailable")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Refresh exchanges the refresh cookie for a new token pair.
func (h *AdminHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	_, refreshToken := h.cookies.Read(r)
	session, err := h.gate.Refresh(ctx, refreshToken)
	if err != nil {
		h.cookies.Clear(w)
		respondWithError(w, http.StatusUnauthorized, "Session expired")
		return
	}

	h.cookies.Write(w, session)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// sessionFromRequest resolves the caller's session from the access cookie,
// falling back to the refresh cookie when the access token has expired. A
// successful refresh rewrites both cookies on the response.
func (h *AdminHandler) sessionFromRequest(w http.ResponseWriter, r *http.Request) *model.Session {
	ctx := r.Context()
	accessToken, refreshToken := h.cookies.Read(r)

	if accessToken != "" {
		if user, err := h.gate.Introspect(ctx, accessToken); err == nil {
			return &model.Session{UserID: user.ID, AccessToken: accessToken, RefreshToken: refreshToken}
		}
	}

	if refreshToken == "" {
		return nil
	}
	session, err := h.gate.Refresh(ctx, refreshToken)
	if err != nil {
		return nil
	}
	h.cookies.Write(w, session)
	return session
}
