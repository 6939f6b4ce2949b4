package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/hexanator/internal/artifact"
	"github.com/loykin/hexanator/internal/auth"
	"github.com/loykin/hexanator/internal/ledger"
	"github.com/loykin/hexanator/internal/reconcile"
)

// Router provides embeddable HTTP handlers for the supervisor.
// Endpoints, relative to basePath:
//
//	PUT    /servers/:name            start (or confirm) a server
//	DELETE /servers/:name            stop a server
//	GET    /servers                  list known names
//	GET    /servers/:name/artifacts  requests recorded by a server
//	POST   /reconcile                body: {"names": [...]}
//	GET    /metrics                  when a metrics handler is configured
//	POST   /auth/login               when auth is configured; body: {"username","password"}
//
// With auth configured every other endpoint requires a bearer token or
// Basic credentials.
type Router struct {
	sup       reconcile.Supervisor
	store     *artifact.Store
	publisher reconcile.Publisher
	metrics   http.Handler
	auth      *auth.Service
	basePath  string
	logger    *slog.Logger
}

type Options struct {
	Supervisor reconcile.Supervisor
	Store      *artifact.Store
	Publisher  reconcile.Publisher
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// Auth, when non-nil, protects every endpoint but /auth/login.
	Auth     *auth.Service
	BasePath string
	Logger   *slog.Logger
}

func NewRouter(o Options) *Router {
	lg := o.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Router{
		sup:       o.Supervisor,
		store:     o.Store,
		publisher: o.Publisher,
		metrics:   o.Metrics,
		auth:      o.Auth,
		basePath:  sanitizeBase(o.BasePath),
		logger:    lg,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	if r.auth != nil {
		group.POST("/auth/login", r.handleLogin)
		group.Use(r.auth.GinAuth())
	}
	group.PUT("/servers/:name", r.handleStart)
	group.DELETE("/servers/:name", r.handleStop)
	group.GET("/servers", r.handleList)
	group.GET("/servers/:name/artifacts", r.handleArtifacts)
	group.POST("/reconcile", r.handleReconcile)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer returns an http.Server for the router; the caller starts it.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// EnsureStarted may take the whole probe schedule
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type startResp struct {
	Name string `json:"name"`
	Port int    `json:"port"`
	URL  string `json:"url"`
}

type listResp struct {
	Names []string `json:"names"`
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type reconcileReq struct {
	Names []string `json:"names"`
}

type reconcileResp struct {
	Servers map[string]string `json:"servers"`
	Error   string            `json:"error,omitempty"`
}

func (r *Router) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		r.logger.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Param("name")
	port, err := r.sup.EnsureStarted(c.Request.Context(), name)
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, startResp{Name: name, Port: port, URL: r.publisher.URL(port)})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.sup.EnsureStopped(c.Request.Context(), c.Param("name")); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleList(c *gin.Context) {
	names, err := r.sup.ListServerNames(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, listResp{Names: names})
}

func (r *Router) handleArtifacts(c *gin.Context) {
	name := c.Param("name")
	if err := ledger.ValidateName(name); err != nil {
		r.fail(c, err)
		return
	}
	if r.store == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "artifact store not configured"})
		return
	}
	arts, err := r.store.Load(name)
	if err != nil {
		r.fail(c, err)
		return
	}
	if arts == nil {
		arts = []artifact.Artifact{}
	}
	writeJSON(c, http.StatusOK, arts)
}

func (r *Router) handleReconcile(c *gin.Context) {
	var req reconcileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	ports, err := reconcile.Reconcile(c.Request.Context(), r.sup, req.Names, r.logger)
	resp := reconcileResp{Servers: r.publisher.URLs(ports)}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(c, statusFor(err), resp)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	tok, err := r.auth.Login(req.Username, req.Password)
	if err != nil {
		r.logger.Warn("login failed", "username", req.Username, "remote", c.ClientIP())
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, tok)
}
