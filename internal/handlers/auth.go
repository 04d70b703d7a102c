package handlers

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/ambulance-dispatch/internal/auth"
	"github.com/ukydev/ambulance-dispatch/internal/db"
	"github.com/ukydev/ambulance-dispatch/internal/middleware"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService    *auth.Service
	userCollection db.UserCollection
	log            logrus.FieldLogger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, userCollection db.UserCollection, log logrus.FieldLogger) *AuthHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthHandler{
		authService:    authService,
		userCollection: userCollection,
		log:            log,
	}
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.userCollection.FindUserByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.log.WithError(err).Error("Failed to look up user")
			writeError(w, err)
			return
		}
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if !user.IsActive {
		writeMessage(w, http.StatusUnauthorized, "Account is deactivated")
		return
	}

	if !h.authService.CheckPassword(req.Password, user.PasswordHash) {
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		h.log.WithError(err).Error("Failed to generate token")
		writeMessage(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	if err := h.userCollection.UpdateLastLogin(r.Context(), user.ID.Hex()); err != nil {
		h.log.WithError(err).WithField("user_id", user.ID.Hex()).Warn("Failed to update last login")
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{AccessToken: token, User: *user})
}

// Register handles user registration. Self-registration may pick any
// non-admin role; creating an ADMIN needs an admin bearer token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleDispatcher
	}
	if !models.IsValidRole(req.Role) {
		writeMessage(w, http.StatusBadRequest, "Invalid role")
		return
	}
	if req.Role == models.RoleAdmin && !h.callerIsAdmin(r) {
		writeMessage(w, http.StatusForbidden, "Only an administrator can create ADMIN accounts")
		return
	}

	passwordHash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		h.log.WithError(err).Error("Failed to hash password")
		writeMessage(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	user, err := h.userCollection.InsertUser(r.Context(), models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Role:         req.Role,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			writeMessage(w, http.StatusConflict, "Email already exists")
			return
		}
		h.log.WithError(err).Error("Failed to create user")
		writeMessage(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	token, err := h.authService.GenerateToken(&user)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.log.WithFields(logrus.Fields{"user_id": user.ID.Hex(), "role": user.Role}).Info("User registered")
	writeJSON(w, http.StatusCreated, models.LoginResponse{AccessToken: token, User: user})
}

func (h *AuthHandler) callerIsAdmin(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if header == "" {
		return false
	}
	claims, err := h.authService.ValidateToken(header)
	return err == nil && models.HasPermission(claims.Role, models.PermFullAdminAccess)
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "User context not found")
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// PermissionsResponse lists what the caller's role may do.
type PermissionsResponse struct {
	Role        models.Role         `json:"role"`
	Permissions []models.Permission `json:"permissions"`
	Pages       map[string]bool     `json:"pages"`
}

// GetPermissions reports the caller's permissions and page access.
func GetPermissions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "User context not found")
		return
	}
	pages := make(map[string]bool)
	for _, page := range models.Pages() {
		pages[page] = models.CanAccessPage(claims.Role, page)
	}
	writeJSON(w, http.StatusOK, PermissionsResponse{
		Role:        claims.Role,
		Permissions: models.Permissions(claims.Role),
		Pages:       pages,
	})
}
