package api

// TokenResponse is the payload returned by the login and refresh endpoints.
type TokenResponse struct {
	// AccessToken is the bearer credential for protected resources.
	// Usage: "Authorization: Bearer <access_token>". Short-lived.
	AccessToken *string `json:"accessToken,omitempty"`

	// RefreshToken mints new access tokens. Only ever transmitted in a
	// request body, never a header. Rotated by the server on each refresh;
	// absent in a refresh response when the server kept the old one.
	RefreshToken *string `json:"refreshToken,omitempty"`

	// ExpiresInSeconds is the access token lifetime. The absolute expiry
	// is computed client-side against the injected clock.
	ExpiresInSeconds int `json:"expiresInSeconds,omitempty"`
}

// UserProfile is the identity returned by the /auth/me endpoint.
type UserProfile struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}
