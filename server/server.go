// Package server is the reference auth backend: the four endpoints the
// client stack talks to (login, refresh, logout, me). Meant for local
// development and end-to-end tests; state lives in memory.
package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"authkit/internal/config"
	"authkit/server/refreshrepo"
	"authkit/users"
)

type Server struct {
	env    string // Environment (e.g., "DEV", "PROD")
	mux    *http.ServeMux
	routes []string
	config config.Config
	users  users.Repo
	issuer *Issuer
	logger zerolog.Logger
}

func New(cfg config.Config, logger zerolog.Logger) (*Server, error) {
	userRepo := users.NewInMemoryRepo()
	s := &Server{
		mux:    http.NewServeMux(),
		config: cfg,
		users:  userRepo,
		issuer: NewIssuer(cfg, refreshrepo.NewInMemoryRepo()),
		logger: logger,
	}
	s.env = cfg.GetEnv()

	// Bootstrap: ensure the demo user exists
	if err := s.seedDemoUser(); err != nil {
		return nil, errors.Wrap(err, "[server.New] failed to seed demo user")
	}

	s.initRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) initRoutes() {
	apiMW := s.APIMiddleware()
	s.RegisterRouteFunc("POST /auth/login", ChainMiddleware(s.LoginHandler, apiMW...))
	s.RegisterRouteFunc("POST /auth/refresh", ChainMiddleware(s.RefreshHandler, apiMW...))
	s.RegisterRouteFunc("POST /auth/logout", ChainMiddleware(s.LogoutHandler, apiMW...))
	s.RegisterRouteFunc("GET /auth/me", ChainMiddleware(s.MeHandler, apiMW...))
}

func (s *Server) seedDemoUser() error {
	passwordHash, err := users.HashPassword(s.config.GetDemoPassword())
	if err != nil {
		return errors.Wrap(err, "hash demo password")
	}
	return s.users.Upsert(&users.User{
		ID:           uuid.New().String(),
		Email:        s.config.GetDemoUser(),
		PasswordHash: passwordHash,
		DisplayName:  "Demo User",
		DateJoined:   NowTimeFunc(),
	})
}
