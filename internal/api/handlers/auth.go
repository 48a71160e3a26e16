package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"sage-app/internal/auth"
	"sage-app/internal/logger"
	"sage-app/internal/repository/db"
	"sage-app/pkg/validation"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// AuthHandlers serves login and registration
type AuthHandlers struct {
	service   *auth.Service
	validator *validation.AuthRequestValidator
}

// NewAuthHandlers creates AuthHandlers
func NewAuthHandlers(service *auth.Service) *AuthHandlers {
	return &AuthHandlers{
		service:   service,
		validator: validation.NewAuthRequestValidator(),
	}
}

// LoginHandler authenticates user and returns JWT token
func (ah *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.Username = validation.NormalizeUsername(req.Username)

	if err := ah.validator.ValidateLoginRequest(req.Username, req.Password); err != nil {
		sendError(w, http.StatusBadRequest, "Username and password are required", err)
		return
	}

	token, err := ah.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			sendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
			return
		}
		logger.Log.WithError(err).Error("Error logging in")
		sendError(w, http.StatusInternalServerError, "Error logging in", err)
		return
	}

	sendJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// RegisterHandler creates a new user account
func (ah *AuthHandlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.Username = validation.NormalizeUsername(req.Username)

	if err := ah.validator.ValidateRegisterRequest(req.Username, req.Email, req.Password); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	token, err := ah.service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrUsernameTaken) {
			sendError(w, http.StatusConflict, "Username already exists", err)
			return
		}
		logger.Log.WithError(err).WithField("username", req.Username).Error("Registration failed")
		sendError(w, http.StatusInternalServerError, "Error creating user", err)
		return
	}

	sendJSON(w, http.StatusCreated, RegisterResponse{
		Message: "User registered successfully",
		Token:   token,
	})
}
