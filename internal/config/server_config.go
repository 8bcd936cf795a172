package config

import "time"

type ServerConfig interface {
	GetSigningSecret() string
	GetIssuer() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenLength() int
	GetAllowedOrigin() string
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type Server struct{}

var _ ServerConfig = Server{}

func (Server) GetSigningSecret() string {
	return GetEnv("SIGNING_SECRET", "dev-only-signing-secret")
}

func (Server) GetIssuer() string {
	return GetEnv("ISSUER", "authkit-dev")
}

func (Server) GetAccessTokenExpiry() time.Duration {
	return 30 * time.Minute
}

func (Server) GetRefreshTokenLength() int {
	return 32 // 32 bytes = 256 bits
}

func (Server) GetAllowedOrigin() string {
	return GetEnv("ALLOWED_ORIGIN", "*")
}

func (Server) GetAllowedMethods() string {
	return "GET, POST, PUT, PATCH, DELETE"
}

func (Server) GetAllowedHeaders() string {
	return "Content-Type, Authorization"
}
