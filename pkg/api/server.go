// Package api exposes the issuer over an HTTP JSON API.
package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capiscio/meta-issuer/internal/logging"
	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/groups"
	"github.com/capiscio/meta-issuer/pkg/issuer"
)

// BasePath prefixes every API route.
const BasePath = "/api/v1"

// CertificateHeader carries the certified-asset proof on static responses.
const CertificateHeader = "X-Metaissuer-Certificate"

// DefaultTokenMaxAge bounds the age of caller bearer tokens.
const DefaultTokenMaxAge = 5 * time.Minute

// Options configures the HTTP handler.
type Options struct {
	Logger      *zap.Logger
	TokenMaxAge time.Duration
	Now         func() time.Time

	// Gatherer, if set, is served on /metrics.
	Gatherer prometheus.Gatherer
}

// Server serves the issuer API.
type Server struct {
	svc         *issuer.Service
	logger      *zap.Logger
	tokenMaxAge time.Duration
	now         func() time.Time
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHandler returns the HTTP handler for svc.
func NewHandler(svc *issuer.Service, opts Options) http.Handler {
	s := &Server{
		svc:         svc,
		logger:      opts.Logger,
		tokenMaxAge: opts.TokenMaxAge,
		now:         opts.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.tokenMaxAge <= 0 {
		s.tokenMaxAge = DefaultTokenMaxAge
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{CertificateHeader},
	}))
	r.Use(s.requestLogger)

	r.Route(BasePath, func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/group-types", s.groupTypes)
		r.Get("/derivation-origin", s.derivationOrigin)
		r.Get("/certified-data", s.certifiedData)

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", s.addGroup)
			r.Get("/", s.listGroups)
			r.Get("/{name}", s.getGroup)
			r.Post("/{name}/join", s.joinGroup)
			r.Post("/{name}/membership", s.updateMembership)
		})

		r.Get("/user", s.getUser)
		r.Put("/user", s.setUser)

		r.Post("/credentials/prepare", s.prepareCredential)
		r.Post("/credentials/get", s.getCredential)
		r.Post("/credentials/consent", s.consentMessage)

		r.Put("/config", s.configure)
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/*", s.asset)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		logger := s.logger.With(
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(logging.CtxWith(r.Context(), logger)))
	})
}

func (s *Server) log(r *http.Request) *zap.Logger {
	return logging.FromCtx(r.Context(), s.logger)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log(r).Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{Code: apierror.CodeInternal, Message: "internal error"}
	if apiErr, ok := apierror.AsError(err); ok {
		body = ErrorBody{Code: apiErr.Code, Message: apiErr.Message}
	}
	status := apierror.HTTPStatus(body.Code)
	if status >= http.StatusInternalServerError {
		s.log(r).Error("request failed", zap.Error(err))
	} else {
		s.log(r).Debug("request rejected", zap.String("code", body.Code), zap.String("message", body.Message))
	}
	s.writeJSON(w, r, status, body)
}

func notAuthenticated(msg string) error {
	return apierror.New(apierror.CodeNotAuthenticated, msg)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierror.InvalidArgument("invalid request body: %v", err)
	}
	return nil
}

func groupName(r *http.Request) (string, error) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath == "" {
		return name, nil
	}
	unescaped, err := url.PathUnescape(name)
	if err != nil {
		return "", apierror.InvalidArgument("invalid group name: %v", err)
	}
	return unescaped, nil
}

type addGroupRequest struct {
	GroupName string `json:"group_name"`
}

func (s *Server) addGroup(w http.ResponseWriter, r *http.Request) {
	var req addGroupRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.svc.AddGroup(r.Context(), CallerFromContext(r.Context()), req.GroupName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, data)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	name, err := groupName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.svc.GetGroup(r.Context(), CallerFromContext(r.Context()), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, data)
}

type listGroupsResponse struct {
	Groups []groups.PublicGroupData `json:"groups"`
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	data, err := s.svc.ListGroups(r.Context(), CallerFromContext(r.Context()), r.URL.Query().Get("substring"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if data == nil {
		data = []groups.PublicGroupData{}
	}
	s.writeJSON(w, r, http.StatusOK, listGroupsResponse{Groups: data})
}

func (s *Server) joinGroup(w http.ResponseWriter, r *http.Request) {
	name, err := groupName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req groups.JoinRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.GroupName = name
	if err := s.svc.JoinGroup(r.Context(), CallerFromContext(r.Context()), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateMembershipRequest struct {
	Updates []groups.MembershipUpdate `json:"updates"`
}

func (s *Server) updateMembership(w http.ResponseWriter, r *http.Request) {
	name, err := groupName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateMembershipRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.UpdateMembership(r.Context(), CallerFromContext(r.Context()), name, req.Updates); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) groupTypes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.svc.GroupTypes())
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	data, err := s.svc.GetUser(r.Context(), CallerFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, data)
}

func (s *Server) setUser(w http.ResponseWriter, r *http.Request) {
	var req groups.User
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.SetUser(r.Context(), CallerFromContext(r.Context()), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) prepareCredential(w http.ResponseWriter, r *http.Request) {
	var req issuer.PrepareCredentialRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.svc.PrepareCredential(r.Context(), CallerFromContext(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, data)
}

func (s *Server) getCredential(w http.ResponseWriter, r *http.Request) {
	var req issuer.GetCredentialRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.svc.GetCredential(r.Context(), CallerFromContext(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, data)
}

func (s *Server) consentMessage(w http.ResponseWriter, r *http.Request) {
	var req issuer.ConsentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.svc.ConsentMessage(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, info)
}

func (s *Server) derivationOrigin(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.svc.DerivationOrigin(r.URL.Query().Get("frontend_hostname")))
}

func (s *Server) certifiedData(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.svc.CertifiedData())
}

func (s *Server) configure(w http.ResponseWriter, r *http.Request) {
	var cfg issuer.Config
	if err := decode(r, &cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Configure(r.Context(), CallerFromContext(r.Context()), cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) asset(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}
	a, ca, ok := s.svc.CertifiedAsset(path)
	if !ok {
		s.writeError(w, r, apierror.NotFound("asset %s", path))
		return
	}
	proof, err := json.Marshal(ca)
	if err != nil {
		s.writeError(w, r, apierror.Internal("encode asset certificate", err))
		return
	}
	if a.ContentType != "" {
		w.Header().Set("Content-Type", a.ContentType)
	}
	w.Header().Set(CertificateHeader, base64.RawURLEncoding.EncodeToString(proof))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(a.Content); err != nil {
		s.log(r).Debug("failed to write asset", zap.Error(err))
	}
}
