package handlers

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/metrics"
	"github.com/taskapp/taskapp/internal/middleware"
	"github.com/taskapp/taskapp/internal/response"
)

type RouterConfig struct {
	AllowedOrigins []string
	TrustProxy     bool
	UploadDir      string
}

type messageResponse struct {
	Message string `json:"message"`
}

func NewRouter(
	cfg RouterConfig,
	authHandlers *AuthHandlers,
	accountHandlers *AccountHandlers,
	authMiddleware *middleware.AuthMiddleware,
	limiter *middleware.RateLimiter,
	gatherer prometheus.Gatherer,
	m *metrics.Metrics,
	logger *logrus.Logger,
) http.Handler {
	router := mux.NewRouter()

	router.Use(middleware.SecurityHeaders)
	router.Use(middleware.RequestLogger(m, cfg.TrustProxy, logger))

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, messageResponse{Message: "Working"})
	}).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	if cfg.UploadDir != "" {
		router.PathPrefix("/uploads/").Handler(
			http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))),
		).Methods("GET")
	}

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, messageResponse{Message: "Welcome"})
	}).Methods("GET")

	auth := api.PathPrefix("/auth").Subrouter()
	limited := func(path string, h http.HandlerFunc) {
		auth.Handle(path, limiter.Limit("auth"+path, h)).Methods("POST")
	}
	limited("/send-otp", authHandlers.SendOTP)
	limited("/send-login-otp", authHandlers.SendLoginOTP)
	limited("/verify-otp", authHandlers.VerifyOTP)
	limited("/admin/register", authHandlers.AdminRegister)
	limited("/admin/login", authHandlers.AdminLogin)
	limited("/admin/refresh", authHandlers.AdminRefresh)
	limited("/admin/forgot-password", authHandlers.AdminForgotPassword)
	limited("/admin/reset-password", authHandlers.AdminResetPassword)
	auth.Handle("/admin/logout", authMiddleware.RequireAdmin(authHandlers.AdminLogout)).Methods("POST")

	api.Handle("/users/me", authMiddleware.RequireUser(accountHandlers.UserMe)).Methods("GET")
	api.Handle("/admin/me", authMiddleware.RequireAdmin(accountHandlers.AdminMe)).Methods("GET")
	api.Handle("/upload/images", authMiddleware.RequireAdmin(accountHandlers.UploadImages)).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After"},
		AllowCredentials: !allowsAnyOrigin(cfg.AllowedOrigins),
		MaxAge:           300,
	})

	return c.Handler(router)
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
