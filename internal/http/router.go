package httpserver

import (
	"log"
	"net/http"

	"github.com/iago/mathdoc-back/internal/http/handlers"
	"github.com/iago/mathdoc-back/internal/http/middleware"
	"github.com/iago/mathdoc-back/internal/session"
)

type RouterDependencies struct {
	API    *handlers.API
	Logger *log.Logger

	JWTSecret string
	DevToken  string
	Sessions  *session.Tracker

	CORSOrigins       []string
	RateLimitRPS      float64
	RateLimitBurst    int
	TrustForwardedFor bool

	// Objects serves in-process storage at /objects/ when set. It runs outside
	// /v1 auth and must check its own signed URLs.
	Objects http.Handler
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/conversions", deps.API.Conversions)
	mux.HandleFunc("/v1/uploads", deps.API.Uploads)
	mux.HandleFunc("/v1/jobs", deps.API.ListJobs)
	mux.HandleFunc("/v1/jobs/", deps.API.JobStatus)
	mux.HandleFunc("/v1/documents", deps.API.Documents)
	mux.HandleFunc("/v1/documents/", deps.API.Document)
	mux.HandleFunc("/v1/exercises", deps.API.Exercises)
	mux.HandleFunc("/v1/solutions", deps.API.Solutions)
	mux.HandleFunc("/v1/session/logout", deps.API.Logout)
	if deps.Objects != nil {
		mux.Handle("/objects/", deps.Objects)
	}

	handler := http.Handler(mux)
	handler = middleware.Auth(middleware.AuthConfig{
		JWTSecret: deps.JWTSecret,
		DevToken:  deps.DevToken,
		Tracker:   deps.Sessions,
	})(handler)
	handler = middleware.RateLimit(middleware.RateLimitConfig{
		RPS:               deps.RateLimitRPS,
		Burst:             deps.RateLimitBurst,
		TrustForwardedFor: deps.TrustForwardedFor,
	})(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
