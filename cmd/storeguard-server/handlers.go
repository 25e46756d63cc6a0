package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/storeguard/storeguard"
	"github.com/storeguard/storeguard/cart"
	"github.com/storeguard/storeguard/device"
	"github.com/storeguard/storeguard/middleware"
)

type handlers struct {
	svc *storeguard.Service
}

type loginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"two_factor_code"`
	Remember      bool   `json:"remember"`
	RedirectTo    string `json:"redirect_to"`
}

type userView struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	DisplayName   string   `json:"display_name,omitempty"`
	Role          string   `json:"role"`
	Permissions   []string `json:"permissions"`
	EmailVerified bool     `json:"email_verified"`
}

func newUserView(u storeguard.User) userView {
	return userView{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Role:          u.Role.String(),
		Permissions:   u.EffectivePermissions().Names(),
		EmailVerified: u.EmailVerified,
	}
}

type itemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *handlers) csrfToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": middleware.CSRFToken(r.Context())})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	res := h.svc.Login(ctx,
		storeguard.Credentials{Email: body.Email, Password: body.Password, TwoFactorCode: body.TwoFactorCode},
		storeguard.LoginOptions{
			Remember:    body.Remember,
			RedirectTo:  body.RedirectTo,
			GuestCartID: cart.GuestIDFor(device.ClientFrom(ctx)),
		},
	)
	if !res.Success {
		status := http.StatusUnauthorized
		var rle *storeguard.RateLimitError
		switch {
		case errors.As(res.Err, &rle):
			w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
			status = http.StatusTooManyRequests
		case errors.Is(res.Err, storeguard.ErrInternal):
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]any{
			"error":              publicError(res.Err),
			"field":              res.Field,
			"remaining_attempts": res.RemainingAttempts,
		})
		return
	}

	middleware.SetSessionCookie(w, h.svc, res.Session, res.Token)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        newUserView(res.User),
		"redirect_to": res.RedirectTo,
		"expires_at":  res.Session.ExpiresAt,
	})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), middleware.SessionToken(r)); err != nil {
		h.svc.Logger().Error("logout failed", zap.Error(err))
	}
	middleware.ClearSessionCookie(w, h.svc)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	sess, token, err := h.svc.Refresh(r.Context(), middleware.SessionToken(r))
	if err != nil {
		middleware.ClearSessionCookie(w, h.svc)
		middleware.DefaultFailure(w, r, err)
		return
	}
	middleware.SetSessionCookie(w, h.svc, sess, token)
	writeJSON(w, http.StatusOK, map[string]any{"expires_at": sess.ExpiresAt})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     newUserView(auth.User),
		"elevated": auth.Session.Elevated(h.svc.Now()),
	})
}

func (h *handlers) sessions(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthFromContext(r.Context())
	list, err := h.svc.ActiveSessions(r.Context(), auth.User.ID)
	if err != nil {
		middleware.DefaultFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

/*
====================================
CART
====================================
*/

func (h *handlers) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Carts().GetOrCreate(r.Context(), middleware.SessionToken(r))
	if err != nil {
		h.cartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) addItem(w http.ResponseWriter, r *http.Request) {
	var body itemRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	h.withCart(w, r, func(c *cart.Cart) (*cart.Cart, error) {
		return h.svc.Carts().AddItem(r.Context(), c.ID, body.ProductID, body.Quantity)
	})
}

func (h *handlers) updateItem(w http.ResponseWriter, r *http.Request) {
	var body itemRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	h.withCart(w, r, func(c *cart.Cart) (*cart.Cart, error) {
		return h.svc.Carts().UpdateQuantity(r.Context(), c.ID, chi.URLParam(r, "id"), body.Quantity)
	})
}

func (h *handlers) removeItem(w http.ResponseWriter, r *http.Request) {
	h.withCart(w, r, func(c *cart.Cart) (*cart.Cart, error) {
		return h.svc.Carts().RemoveItem(r.Context(), c.ID, chi.URLParam(r, "id"))
	})
}

func (h *handlers) clearCart(w http.ResponseWriter, r *http.Request) {
	h.withCart(w, r, func(c *cart.Cart) (*cart.Cart, error) {
		return h.svc.Carts().Clear(r.Context(), c.ID)
	})
}

// withCart resolves the caller's own cart before mutating it, so clients never name a
// cart id directly.
func (h *handlers) withCart(w http.ResponseWriter, r *http.Request, fn func(*cart.Cart) (*cart.Cart, error)) {
	c, err := h.svc.Carts().GetOrCreate(r.Context(), middleware.SessionToken(r))
	if err != nil {
		h.cartError(w, err)
		return
	}
	if c, err = fn(c); err != nil {
		h.cartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) cartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrProductNotFound), errors.Is(err, cart.ErrItemNotFound), errors.Is(err, cart.ErrCartNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, cart.ErrExceedsStock):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.svc.Logger().Error("cart operation failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

/*
====================================
ADMIN
====================================
*/

func (h *handlers) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	writeJSON(w, http.StatusOK, h.svc.AuditTrail(limit))
}

func (h *handlers) securityReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.SecurityReport())
}

// publicError keeps login failures to the sentinel text so internal causes never reach
// the client.
func publicError(err error) string {
	for _, known := range []error{
		storeguard.ErrRateLimited,
		storeguard.ErrInvalidCredentials,
		storeguard.ErrAccountDisabled,
		storeguard.ErrEmailNotVerified,
		storeguard.ErrTwoFactorRequired,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
