package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/coderunr/evaluator/internal/job"
	"github.com/coderunr/evaluator/internal/service"
	"github.com/coderunr/evaluator/internal/types"
)

// ChallengeHandler serves the catalog endpoints
type ChallengeHandler struct {
	*Handler
	catalog *service.CatalogService
}

// NewChallengeHandler creates a new challenge handler
func NewChallengeHandler(h *Handler) *ChallengeHandler {
	return &ChallengeHandler{
		Handler: h,
		catalog: h.catalog,
	}
}

// RegisterRoutes registers catalog routes
func (ch *ChallengeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/challenges", ch.ListChallenges)
	r.Post("/challenges/refresh", ch.RefreshChallenges)
	r.Get("/challenges/{id}", ch.GetChallenge)
	r.Post("/challenges/{id}/evaluate", ch.EvaluateChallenge)
}

// ListChallenges returns a summary of every challenge
func (ch *ChallengeHandler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	ch.logger.Debug("Request to list challenges")

	challenges, err := ch.catalog.List(r.Context())
	if err != nil {
		ch.catalogError(w, err)
		return
	}

	ch.sendJSON(w, service.Info(challenges), http.StatusOK)
}

// GetChallenge returns one challenge without its reference solution
func (ch *ChallengeHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := ch.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ch.catalogError(w, err)
		return
	}

	public := *challenge
	public.Solution = ""
	ch.sendJSON(w, public, http.StatusOK)
}

// EvaluateChallenge runs submitted code against the challenge's test cases
func (ch *ChallengeHandler) EvaluateChallenge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var request types.ChallengeEvaluateRequest
	if !ch.decode(w, r, &request) {
		return
	}

	if request.Code == "" {
		ch.sendError(w, "code is required as a string", http.StatusBadRequest)
		return
	}

	challenge, err := ch.catalog.Get(r.Context(), id)
	if err != nil {
		ch.catalogError(w, err)
		return
	}

	submission := types.Submission{
		Code:       request.Code,
		EntryPoint: challenge.EntryPoint,
		TestCases:  challenge.TestCases,
	}
	if err := ch.jobManager.Validate(submission); err != nil {
		ch.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ch.logger.WithFields(logrus.Fields{
		"challenge": id,
		"cases":     len(challenge.TestCases),
	}).Debug("Evaluating challenge submission")

	response := ch.jobManager.Evaluate(r.Context(), submission)
	ch.sendJSON(w, response, http.StatusOK)
}

// RefreshChallenges reloads the catalog from its source
func (ch *ChallengeHandler) RefreshChallenges(w http.ResponseWriter, r *http.Request) {
	if err := ch.catalog.Refresh(r.Context()); err != nil {
		ch.catalogError(w, err)
		return
	}

	challenges, err := ch.catalog.List(r.Context())
	if err != nil {
		ch.catalogError(w, err)
		return
	}

	ch.sendJSON(w, map[string]int{"count": len(challenges)}, http.StatusOK)
}

// catalogError maps catalog failures onto status codes
func (ch *ChallengeHandler) catalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrChallengeNotFound):
		ch.sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrCatalogDisabled):
		ch.sendError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, job.ErrInvalidSubmission):
		ch.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		ch.logger.WithError(err).Error("Challenge catalog failure")
		ch.sendError(w, "Failed to load challenge catalog", http.StatusBadGateway)
	}
}
