package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/quill/internal/coverage"
	"github.com/MikeSquared-Agency/quill/internal/pipeline"
	"github.com/MikeSquared-Agency/quill/internal/questions"
	"github.com/MikeSquared-Agency/quill/internal/ranking"
	"github.com/MikeSquared-Agency/quill/internal/speaker"
)

// Service is the pipeline surface the API serves. *pipeline.Pipeline
// satisfies it.
type Service interface {
	Run(ctx context.Context) error
	Results(questionID string) ([]ranking.RankedQuote, bool)
	Coverage() []coverage.Stats
	Corrections(transcriptID string) []speaker.Correction
	IngestedStats() []pipeline.IngestStats
	Questions() []questions.Question
	Status() pipeline.Status
}

type Server struct {
	router  *chi.Mux
	port    int
	service Service
	logger  *slog.Logger
}

func NewServer(port int, service Service, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		port:    port,
		service: service,
		logger:  logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/quill/status", s.status)
	router.Get("/api/v1/quill/questions", s.listQuestions)
	router.Get("/api/v1/quill/questions/{id}/quotes", s.questionQuotes)
	router.Get("/api/v1/quill/coverage", s.coverage)
	router.Get("/api/v1/quill/transcripts", s.transcripts)
	router.Get("/api/v1/quill/transcripts/{id}/corrections", s.corrections)
	router.Post("/api/v1/quill/analyze", s.analyze)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

func (s *Server) listQuestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Questions())
}

type quoteResponse struct {
	UtteranceID    string  `json:"utterance_id"`
	Rank           int     `json:"rank"`
	SelectionStage string  `json:"selection_stage"`
	Score          float64 `json:"score"`
	Reason         string  `json:"reason,omitempty"`
}

func (s *Server) questionQuotes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	quotes, ok := s.service.Results(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no results for question " + id})
		return
	}

	out := make([]quoteResponse, len(quotes))
	for i, q := range quotes {
		out[i] = quoteResponse{
			UtteranceID:    q.UtteranceID,
			Rank:           q.Rank,
			SelectionStage: q.SelectionStage,
			Score:          q.Score,
			Reason:         q.Reason,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"question_id": id, "quotes": out})
}

func (s *Server) coverage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Coverage())
}

func (s *Server) transcripts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.IngestedStats())
}

type correctionResponse struct {
	UtteranceID string `json:"utterance_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Reason      string `json:"reason"`
	Confidence  int    `json:"confidence"`
}

func (s *Server) corrections(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	corrections := s.service.Corrections(id)

	out := make([]correctionResponse, len(corrections))
	for i, c := range corrections {
		out[i] = correctionResponse{
			UtteranceID: c.UtteranceID,
			From:        string(c.From),
			To:          string(c.To),
			Reason:      c.Reason,
			Confidence:  c.Confidence,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcript_id": id, "corrections": out})
}

// analyze kicks off a full run in the background. Analysis can take minutes
// with a live oracle; the caller polls status and coverage.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.service.Run(context.Background()); err != nil {
			s.logger.Error("analysis run failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
