package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/auth"
	"github.com/ukydev/care-assets/internal/db"
	"github.com/ukydev/care-assets/internal/middleware"
	"github.com/ukydev/care-assets/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuthHandler handles staff sign-in and registration
type AuthHandler struct {
	authService *auth.Service
	staff       db.StaffCollection
	now         func() time.Time
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, staff db.StaffCollection) *AuthHandler {
	return &AuthHandler{authService: authService, staff: staff, now: time.Now}
}

// Login handles staff login. It needs the remote store.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		badRequest(w, "Username and password are required")
		return
	}

	staff, err := h.staff.FindStaffByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: auth.ErrInvalidCredentials.Error()})
			return
		}
		log.WithError(err).Warn("Staff lookup failed during login")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "sign-in needs a connection to the server"})
		return
	}
	if !staff.IsActive {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: auth.ErrStaffInactive.Error()})
		return
	}
	if !h.authService.CheckPassword(req.Password, staff.PasswordHash) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: auth.ErrInvalidCredentials.Error()})
		return
	}

	resp, err := h.issue(staff)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.staff.UpdateLastLogin(r.Context(), staff.ID.Hex()); err != nil {
		log.WithError(err).WithField("username", staff.Username).Warn("Failed to update last login")
	}
	log.WithFields(log.Fields{"username": staff.Username, "role": staff.Role}).Info("Staff signed in")
	writeJSON(w, http.StatusOK, resp)
}

// Register creates a staff account. Anyone may register as a viewer; other
// roles need a caller allowed to manage staff.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if err := h.authService.ValidateUsername(req.Username); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := h.authService.ValidateEmail(req.Email); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := h.authService.ValidatePassword(req.Password); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = models.RoleViewer
	}
	if !models.IsValidRole(req.Role) {
		badRequest(w, "Invalid role")
		return
	}
	if req.Role != models.RoleViewer {
		caller, ok := middleware.GetStaffFromContext(r.Context())
		if !ok || !caller.Role.Can(models.ActionManageStaff) {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "only an administrator can assign that role"})
			return
		}
	}

	if taken, err := exists(r.Context(), h.staff.FindStaffByUsername, req.Username); err != nil || taken {
		conflictOrUnavailable(w, err, "Username already exists")
		return
	}
	if taken, err := exists(r.Context(), h.staff.FindStaffByEmail, req.Email); err != nil || taken {
		conflictOrUnavailable(w, err, "Email already exists")
		return
	}

	hash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	now := h.now()
	staff := models.Staff{
		ID:           primitive.NewObjectID(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Facility:     req.Facility,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.staff.InsertStaff(r.Context(), staff); err != nil {
		log.WithError(err).Error("Failed to create staff account")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "failed to create staff account"})
		return
	}

	resp, err := h.issue(&staff)
	if err != nil {
		writeError(w, err)
		return
	}
	log.WithFields(log.Fields{"username": staff.Username, "role": staff.Role}).Info("Staff account created")
	writeJSON(w, http.StatusCreated, resp)
}

// Me returns the signed-in staff member's profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetStaffFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Staff context not found"})
		return
	}
	staff, err := h.staff.FindStaffByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: auth.ErrStaffNotFound.Error()})
			return
		}
		// Offline: answer from the token.
		writeJSON(w, http.StatusOK, models.Staff{Username: claims.Username, Role: claims.Role, Facility: claims.Facility})
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

func (h *AuthHandler) issue(staff *models.Staff) (models.LoginResponse, error) {
	token, err := h.authService.GenerateToken(staff)
	if err != nil {
		return models.LoginResponse{}, err
	}
	refresh, err := h.authService.GenerateRefreshToken()
	if err != nil {
		return models.LoginResponse{}, err
	}
	return models.LoginResponse{Token: token, RefreshToken: refresh, Staff: *staff}, nil
}

// exists reports whether find locates key. Lookup failures other than
// not-found are returned.
func exists(ctx context.Context, find func(context.Context, string) (*models.Staff, error), key string) (bool, error) {
	_, err := find(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, db.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func conflictOrUnavailable(w http.ResponseWriter, err error, conflict string) {
	if err != nil {
		log.WithError(err).Warn("Staff lookup failed during registration")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "registration needs a connection to the server"})
		return
	}
	writeJSON(w, http.StatusConflict, errorResponse{Error: conflict})
}
