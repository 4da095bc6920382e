package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"imagestudio/internal/app"
	"imagestudio/internal/ratelimit"
	"imagestudio/internal/util"
	"imagestudio/pkg/ai"
	"imagestudio/pkg/domain"
	"imagestudio/pkg/token"
)

const maxBodyBytes = 32 << 20 // base64 source images in request bodies

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                     *app.App
	Tokens                  *token.Issuer
	RedisAddr               string
	RedisPassword           string
	LoginRateLimitPerMinute int
	CORSOrigin              string
	// TrustedProxies lists proxy CIDRs whose forwarded headers are
	// believed when resolving client addresses for audit and rate limits.
	TrustedProxies []string
	// StaticImagesDir enables serving /images/* from disk when the local
	// asset backend is active.
	StaticImagesDir string
}

// Server exposes the HTTP API.
type Server struct {
	app          *app.App
	tokens       *token.Issuer
	mux          *http.ServeMux
	loginLimiter *ratelimit.FixedWindowLimiter
	corsOrigin   string
	proxies      *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	var loginLimiter *ratelimit.FixedWindowLimiter
	var err error
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		prefix := "imagestudio:ratelimit:login"
		loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, loginLimit, time.Minute)
	} else {
		loginLimiter, err = ratelimit.NewMemoryFixedWindowLimiter(loginLimit, time.Minute)
	}
	if err != nil {
		return nil, fmt.Errorf("init login limiter: %w", err)
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}

	s := &Server{
		app:          cfg.App,
		tokens:       cfg.Tokens,
		mux:          http.NewServeMux(),
		loginLimiter: loginLimiter,
		corsOrigin:   cfg.CORSOrigin,
		proxies:      proxies,
	}
	s.routes(cfg.StaticImagesDir)
	return s, nil
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(s.corsOrigin, util.WithRequestID(util.WithRequestLog("api", s.mux))))
}

func (s *Server) routes(staticImagesDir string) {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// users
	s.mux.HandleFunc("/api/v1/users/login", s.handleLogin)
	s.mux.Handle("/api/v1/users/create", s.adminOnly(s.handleCreateUser))
	s.mux.Handle("/api/v1/users/getall", s.authenticated(s.handleListUsers))
	s.mux.Handle("/api/v1/users/profile", s.authenticated(s.handleProfile))
	s.mux.Handle("/api/v1/users/getUserByEmail", s.authenticated(s.handleGetUserByEmail))
	s.mux.Handle("/api/v1/users/deleteUserByEmail", s.adminOnly(s.handleDeleteUserByEmail))

	// generation
	s.mux.Handle("/api/v1/image/generate", s.authenticated(s.handleGenerateFlux))
	s.mux.Handle("/api/v1/generative/image/lucidOriginTTI", s.authenticated(s.handleGenerateLucid))
	s.mux.Handle("/api/v1/generative/image/inpaint", s.adminOnly(s.handleGenerateInpaint))
	s.mux.Handle("/api/v1/generative/image/imageToImage", s.authenticated(s.handleGenerateImg2Img))
	s.mux.Handle("/api/v1/generative/image/sdxl", s.authenticated(s.handleGenerateSDXL))
	s.mux.Handle("/api/v1/generative/image/nanoBanana", s.adminOnly(s.handleGenerateNanoBanana))

	// gallery
	s.mux.Handle("/api/v1/images/all", s.authenticated(s.handleListAllImages))
	s.mux.Handle("/api/v1/images/my", s.authenticated(s.handleListMyImages))
	s.mux.Handle("/api/v1/images/allimagesbyuseremail", s.adminOnly(s.handleListImagesByEmail))
	s.mux.Handle("/api/v1/images/", s.authenticated(s.handleImageByID))

	if staticImagesDir != "" {
		s.mux.Handle("/images/", http.StripPrefix("/images/", http.FileServer(http.Dir(staticImagesDir))))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Role != domain.RoleAdmin {
			s.audit(r, "api.admin.authorize", "fail", "email", user.Email, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	tok, ok := bearerToken(r)
	if !ok {
		s.audit(r, "api.token.verify", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	claims, err := s.tokens.Verify(tok)
	if err != nil {
		s.audit(r, "api.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return domain.User{}, false
	}
	return claims.User(), true
}

// user handlers
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "api.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", domain.MessageOf(err))
		writeDomainError(w, err)
		return
	}
	tok, err := s.tokens.Issue(user)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", "token_issue_failed")
		writeError(w, http.StatusInternalServerError, "could not issue session token")
		return
	}
	s.audit(r, "api.login", "success", "email", user.Email)
	writeSuccess(w, http.StatusOK, "Login successful", loginResponse{
		Token: tok,
		Role:  user.Role,
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createUserRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.CreateUser(req.Name, req.Email, req.Password, domain.UserRole(strings.ToLower(strings.TrimSpace(req.Role))))
	if err != nil {
		s.audit(r, "api.user.create", "fail", "reason", domain.MessageOf(err))
		writeDomainError(w, err)
		return
	}
	s.audit(r, "api.user.create", "success", "email", user.Email)
	writeSuccess(w, http.StatusCreated, "User created successfully", user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeList(w, http.StatusOK, "Users fetched successfully", users, len(users))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	profile, err := s.app.Profile(user.Email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Profile fetched successfully", profile)
}

func (s *Server) handleGetUserByEmail(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.app.GetUserByEmail(r.URL.Query().Get("email"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "User fetched successfully", user)
}

func (s *Server) handleDeleteUserByEmail(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	email := r.URL.Query().Get("email")
	removed, err := s.app.DeleteUserByEmail(r.Context(), email)
	if err != nil {
		s.audit(r, "api.user.delete", "fail", "email", email, "reason", domain.MessageOf(err))
		writeDomainError(w, err)
		return
	}
	s.audit(r, "api.user.delete", "success", "email", email)
	writeSuccess(w, http.StatusOK, "User deleted successfully", map[string]any{
		"deletedImages": removed,
	})
}

// generation handlers
func (s *Server) handleGenerateFlux(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req ai.TextToImageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.GenerateFlux(r.Context(), user.Email, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Image generated successfully", res)
}

func (s *Server) handleGenerateLucid(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req ai.LucidOriginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.GenerateLucidOrigin(r.Context(), user.Email, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Image generated successfully", res)
}

func (s *Server) handleGenerateSDXL(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req ai.DiffusionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.GenerateSDXL(r.Context(), user.Email, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Image generated successfully", res)
}

func (s *Server) handleGenerateImg2Img(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req ai.DiffusionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.GenerateImg2Img(r.Context(), user.Email, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Image generated successfully", res)
}

func (s *Server) handleGenerateInpaint(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req ai.InpaintRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.GenerateInpaint(r.Context(), user.Email, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Image inpainted successfully", res)
}

func (s *Server) handleGenerateNanoBanana(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req ai.NanoBananaRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.GenerateNanoBanana(r.Context(), user.Email, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Image edited successfully", res)
}

// gallery handlers
func (s *Server) handleListAllImages(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	// Non-admin callers are served their own gallery instead of an error.
	if user.Role != domain.RoleAdmin {
		s.listOwn(w, user)
		return
	}
	images, err := s.app.ListAllImages()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeList(w, http.StatusOK, "Images fetched successfully", images, len(images))
}

func (s *Server) handleListMyImages(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.listOwn(w, user)
}

func (s *Server) listOwn(w http.ResponseWriter, user domain.User) {
	images, err := s.app.ListImagesByOwner(user.Email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeList(w, http.StatusOK, "Images fetched successfully", images, len(images))
}

func (s *Server) handleListImagesByEmail(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	images, err := s.app.ListImagesByOwner(r.URL.Query().Get("email"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeList(w, http.StatusOK, "Images fetched successfully", images, len(images))
}

// /api/v1/images/{id}
func (s *Server) handleImageByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/images/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		img, err := s.app.GetImage(user, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, "Image fetched successfully", img)
	case http.MethodDelete:
		if err := s.app.DeleteImage(r.Context(), user, id); err != nil {
			s.audit(r, "api.image.delete", "fail", "image_id", id, "reason", domain.MessageOf(err))
			writeDomainError(w, err)
			return
		}
		s.audit(r, "api.image.delete", "success", "image_id", id, "email", user.Email)
		writeSuccess(w, http.StatusOK, "Image deleted successfully", nil)
	default:
		methodNotAllowed(w)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string          `json:"token"`
	Role  domain.UserRole `json:"role"`
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if tok == "" {
		return "", false
	}
	return tok, true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.proxies),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.proxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
