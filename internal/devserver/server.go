// Package devserver implements a local development backend speaking the
// same REST and websocket contract as the production EEG assistant service.
// It exists for manual testing and demos: responses are canned unless an
// LLM API key is configured.
package devserver

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neurocare-ai/eeg-assist/internal/config"
	"github.com/neurocare-ai/eeg-assist/internal/llm"
	"github.com/neurocare-ai/eeg-assist/internal/middleware"
	"github.com/neurocare-ai/eeg-assist/internal/model"
	"github.com/neurocare-ai/eeg-assist/pkg/logger"
)

// session correlates a send round trip with the stream that answers it.
type session struct {
	ID         string
	PatientID  string
	Message    string
	EEGSummary string
}

// Server is the development backend.
type Server struct {
	cfg      *config.Config
	log      *logger.Logger
	llm      llm.Client // nil means canned responses
	upgrader websocket.Upgrader

	mu        sync.Mutex
	histories map[string][]model.Message
	sessions  map[string]*session
}

// New creates a devserver. llmClient may be nil.
func New(cfg *config.Config, log *logger.Logger, llmClient llm.Client) *Server {
	return &Server{
		cfg: cfg,
		log: log,
		llm: llmClient,
		upgrader: websocket.Upgrader{
			// Local development server; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		histories: make(map[string][]model.Message),
		sessions:  make(map[string]*session),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(s.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(s.cfg.JWTSecret))
		r.Use(middleware.RateLimit(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))

		r.Post("/chat/{patientID}", s.handleSend)
		r.Get("/chat-history/{patientID}", s.handleHistory)
		r.Get("/ws", s.handleWS)
	})

	return r
}

// appendHistory records a message so later history fetches return it.
func (s *Server) appendHistory(patientID string, msg model.Message) {
	s.mu.Lock()
	s.histories[patientID] = append(s.histories[patientID], msg)
	s.mu.Unlock()
}

// lookupSession returns a previously issued session.
func (s *Server) lookupSession(sessionID string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}
