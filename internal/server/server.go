package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"guardianlink/internal/auth"
	"guardianlink/internal/chat"
	"guardianlink/internal/identity"
	"guardianlink/internal/storage"
)

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
	h             handler
}

// NewServer wires the HTTP surface: REST under /api, the websocket upgrade
// at /ws, plus health and metrics.
func NewServer(logger *zap.SugaredLogger, store *storage.Store, ident *identity.Service, coordinator *chat.Coordinator, signer auth.Signer, opts ...Option) (*Server, error) {
	srv := &Server{
		logger: logger,
		h: handler{
			logger:      logger,
			store:       store,
			identity:    ident,
			coordinator: coordinator,
		},
	}

	r := chi.NewRouter()
	r.Use(requestLog(logger.Desugar()))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, http.StatusOK, "ok", nil)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", srv.h.ws(signer))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(enforceJSON)
			r.Post("/register", srv.h.register)
			r.Post("/login", srv.h.login)
			r.Post("/verify", srv.h.verify)
			r.Post("/verify/resend", srv.h.resendVerification)
			r.Post("/password-reset", srv.h.passwordReset)
			r.Post("/password-reset/confirm", srv.h.passwordResetConfirm)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate(signer))

			r.With(enforceJSON).Post("/users", srv.h.provisionUser)
			r.With(enforceJSON).Post("/users/guardian", srv.h.createGuardian)
			r.Get("/users/{id}", srv.h.userByID)

			r.With(enforceJSON).Post("/organizations", srv.h.createOrganization)
			r.Get("/organizations/{id}", srv.h.organizationByID)

			r.Get("/requests", srv.h.listRequests)
			r.With(enforceJSON).Post("/requests", srv.h.createRequest)
			r.Post("/requests/{id}/accept", srv.h.settleRequest(storage.RequestAccepted))
			r.Post("/requests/{id}/reject", srv.h.settleRequest(storage.RequestRejected))

			r.With(enforceJSON).Post("/chats", srv.h.getOrCreateChat)
			r.Get("/chats", srv.h.listChats)
			r.Get("/chats/{chatId}/messages", srv.h.chatMessages)

			r.With(enforceJSON).Post("/chats/group", srv.h.createGroupChat)
			r.With(enforceJSON).Post("/chats/group/{chatId}/participants", srv.h.addGroupParticipants)
			r.Delete("/chats/group/{chatId}/participants/{userId}", srv.h.removeGroupParticipant)
			r.With(enforceJSON).Patch("/chats/group/{chatId}", srv.h.renameGroup)
			r.Delete("/chats/group/{chatId}", srv.h.deleteGroup)
		})
	})

	cfg := config{httpServer: &http.Server{Handler: r}}
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	srv.httpServer = cfg.httpServer
	srv.afterShutdown = cfg.afterShutdown

	return srv, nil
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
