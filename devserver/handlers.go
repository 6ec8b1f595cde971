package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/panyam/storefront/client"
)

// Product is the sample tenant-scoped resource
type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	CreatedAt  time.Time `json:"created_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDetail writes {"detail": ...}
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeMessage writes {"message": ...}
func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeFieldErrors writes a 422 {"errors": {field: message}}
func writeFieldErrors(w http.ResponseWriter, errs map[string]string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": errs})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// issueTokens creates a fresh token family for user and writes the auth response
func (s *Server) issueTokens(w http.ResponseWriter, status int, user *User) {
	refreshToken, err := s.refresh.Create(user.ID)
	if err != nil {
		s.logger.Error("failed to create refresh token", "err", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to create token")
		return
	}
	s.writeAuthResponse(w, status, user, refreshToken)
}

func (s *Server) writeAuthResponse(w http.ResponseWriter, status int, user *User, refreshToken string) {
	accessToken, expiresIn, err := s.createAccessToken(user)
	if err != nil {
		s.logger.Error("failed to create access token", "err", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to create token")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, client.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		User:         user.Info(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req client.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.users.Authenticate(req.Email, req.Password)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	s.issueTokens(w, http.StatusOK, user)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req client.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	errs := map[string]string{}
	if strings.TrimSpace(req.Name) == "" {
		errs["name"] = "required"
	}
	if !strings.Contains(req.Email, "@") {
		errs["email"] = "must be a valid email address"
	}
	if len(req.Password) < MinPasswordLength {
		errs["password"] = "too short"
	}
	if len(errs) > 0 {
		writeFieldErrors(w, errs)
		return
	}

	user, err := s.users.Create(User{
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		BusinessName: req.BusinessName,
		Role:         RoleTenantOwner,
		Plan:         PlanFree,
	}, req.Password)
	if errors.Is(err, ErrUserExists) {
		writeFieldErrors(w, map[string]string{"email": "already registered"})
		return
	} else if err != nil {
		s.logger.Error("failed to create user", "err", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to create account")
		return
	}
	s.issueTokens(w, http.StatusCreated, user)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req client.RefreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeDetail(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	newToken, userID, err := s.refresh.Rotate(req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenReused) {
			s.logger.Warn("refresh token reuse detected, family revoked")
		}
		writeDetail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}
	user, ok := s.users.Get(userID)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}
	s.refreshCount.Add(1)
	s.writeAuthResponse(w, http.StatusOK, user, newToken)
}

// handleLogout revokes the presented refresh token. Always 204.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req client.RefreshRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.RefreshToken != "" {
		s.refresh.Revoke(req.RefreshToken)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := s.users.CreateResetToken(req.Email, s.resetTTL)
	if err != nil {
		s.logger.Error("failed to create reset token", "err", err)
		writeMessage(w, http.StatusInternalServerError, "Could not send reset link")
		return
	}
	if token != "" {
		s.logger.Info("password reset requested", "email", normalizeEmail(req.Email), "token", token)
	}
	// same response for unknown emails
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req client.ResetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Password) < MinPasswordLength {
		writeFieldErrors(w, map[string]string{"password": "too short"})
		return
	}
	userID, err := s.users.ResetPassword(req.Token, req.Password)
	if err != nil {
		s.logger.Error("failed to reset password", "err", err)
		writeMessage(w, http.StatusInternalServerError, "Could not reset password")
		return
	}
	if userID == "" {
		writeMessage(w, http.StatusBadRequest, "Reset link is invalid or has expired")
		return
	}
	// sessions started with the old password end here
	s.refresh.RevokeUser(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFromContext(r.Context()).Info())
}

// handleSetPlan switches the caller's tenant plan. Owners only.
func (s *Server) handleSetPlan(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user.Role != RoleTenantOwner {
		writeDetail(w, http.StatusForbidden, "Only the owner can change the plan")
		return
	}
	var req struct {
		Plan string `json:"plan"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Plan != PlanFree && req.Plan != PlanPro {
		writeFieldErrors(w, map[string]string{"plan": "unknown plan"})
		return
	}
	s.users.SetPlan(user.TenantID, req.Plan)
	user.Plan = req.Plan
	writeJSON(w, http.StatusOK, user.Info())
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	products := s.products.List(user.TenantID)
	sort.Slice(products, func(i, j int) bool {
		return products[i].CreatedAt.Before(products[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var p Product
	if !decodeBody(w, r, &p) {
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		writeFieldErrors(w, map[string]string{"name": "required"})
		return
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now().UTC()
	s.products.Put(user.TenantID, p)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	p, ok := s.products.Get(user.TenantID, mux.Vars(r)["id"])
	if !ok {
		writeDetail(w, http.StatusNotFound, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleUpdateProduct replaces (PUT) or merges (PATCH) a product
func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	existing, ok := s.products.Get(user.TenantID, mux.Vars(r)["id"])
	if !ok {
		writeDetail(w, http.StatusNotFound, "Product not found")
		return
	}

	updated := existing
	if r.Method == http.MethodPut {
		updated = Product{}
	}
	if !decodeBody(w, r, &updated) {
		return
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	if strings.TrimSpace(updated.Name) == "" {
		writeFieldErrors(w, map[string]string{"name": "required"})
		return
	}
	s.products.Put(user.TenantID, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if !s.products.Delete(user.TenantID, mux.Vars(r)["id"]) {
		writeDetail(w, http.StatusNotFound, "Product not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdvancedReport is gated on the pro plan
func (s *Server) handleAdvancedReport(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user.Plan != PlanPro {
		writeJSON(w, http.StatusPaymentRequired, map[string]string{
			"code":    client.SubscriptionRequiredCode,
			"message": "Upgrade to Pro to access advanced reports",
		})
		return
	}
	products := s.products.List(user.TenantID)
	var stockValue int64
	for _, p := range products {
		stockValue += p.PriceCents * int64(p.Stock)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_count":     len(products),
		"stock_value_cents": stockValue,
	})
}
