package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"authkit/api"
	"authkit/internal/utils"
	"authkit/users"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// LoginHandler exchanges user credentials for a token pair.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	user, err := s.users.GetByEmail(req.Identifier)
	if err != nil || user.Blocked || !users.CheckPasswordHash(req.Secret, user.PasswordHash) {
		// Same response for unknown user and wrong password
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.writeTokenPair(w, user)
}

// RefreshHandler redeems a refresh token for a new token pair. The
// presented token is consumed; a replacement is minted alongside the new
// access token.
func (s *Server) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	userID, err := s.issuer.RedeemRefreshToken(req.RefreshToken)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	user, err := s.users.GetByID(userID)
	if err != nil || user.Blocked {
		s.writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.writeTokenPair(w, user)
}

// LogoutHandler invalidates the caller's refresh token.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	s.issuer.InvalidateRefreshToken(userID)
	w.WriteHeader(http.StatusOK)
}

// MeHandler returns the authenticated user's profile.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	user, err := s.users.GetByID(userID)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	s.writeJSON(w, http.StatusOK, api.UserProfile{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		AvatarURL:   user.AvatarURL,
	})
}

// authenticate verifies the bearer token and returns the subject user ID.
// Writes the 401 itself when verification fails.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	rawToken := strings.TrimPrefix(header, "Bearer ")
	if header == "" || rawToken == header {
		s.writeError(w, http.StatusUnauthorized, "missing bearer token")
		return "", false
	}
	userID, err := s.issuer.VerifyAccessToken(rawToken)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid token")
		return "", false
	}
	return userID, true
}

func (s *Server) writeTokenPair(w http.ResponseWriter, user *users.User) {
	accessToken, expiresIn, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to issue access token")
		s.writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	refreshToken, err := s.issuer.IssueRefreshToken(user.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to issue refresh token")
		s.writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	s.writeJSON(w, http.StatusOK, api.TokenResponse{
		AccessToken:      utils.Ptr(accessToken),
		RefreshToken:     utils.Ptr(refreshToken),
		ExpiresInSeconds: expiresIn,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
