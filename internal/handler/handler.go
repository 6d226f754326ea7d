package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coderunr/evaluator/internal/job"
	"github.com/coderunr/evaluator/internal/runtime"
	"github.com/coderunr/evaluator/internal/service"
	"github.com/coderunr/evaluator/internal/types"
	"github.com/sirupsen/logrus"
)

// Version is reported by GET /
const Version = "1.0.0"

// Handler contains the dependencies for HTTP handlers
type Handler struct {
	jobManager     *job.Manager
	runtimeManager *runtime.Manager
	catalog        *service.CatalogService
	logger         *logrus.Logger
}

// NewHandler creates a new handler instance
func NewHandler(jobManager *job.Manager, runtimeManager *runtime.Manager, catalog *service.CatalogService, logger *logrus.Logger) *Handler {
	return &Handler{
		jobManager:     jobManager,
		runtimeManager: runtimeManager,
		catalog:        catalog,
		logger:         logger,
	}
}

// GetVersion returns the API version
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"message": "CodeRunr evaluator v" + Version,
	}
	h.sendJSON(w, response, http.StatusOK)
}

// Evaluate compiles and runs a submission against its test cases. Engine
// failures are reported with 200 and success:false; only malformed requests
// get an error status.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var request types.EvaluateRequest
	if !h.decode(w, r, &request) {
		return
	}

	submission, _, err := h.prepare(&request)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	response := h.jobManager.Evaluate(r.Context(), submission)
	h.sendJSON(w, response, http.StatusOK)
}

// GetRuntimes returns available runtimes
func (h *Handler) GetRuntimes(w http.ResponseWriter, r *http.Request) {
	runtimes := h.runtimeManager.GetRuntimes()

	response := make([]types.RuntimeInfo, len(runtimes))
	for i, rt := range runtimes {
		response[i] = types.RuntimeInfo{
			Language: rt.Language,
			Version:  rt.Version.String(),
			Aliases:  rt.Aliases,
			Target:   rt.Target,
		}
	}

	h.sendJSON(w, response, http.StatusOK)
}

// prepare validates a request and turns it into a submission for the
// resolved runtime
func (h *Handler) prepare(request *types.EvaluateRequest) (types.Submission, *types.Runtime, error) {
	if err := validateEvaluateRequest(request); err != nil {
		return types.Submission{}, nil, err
	}

	rt, err := h.runtimeManager.Resolve(request.Language, request.Version)
	if err != nil {
		return types.Submission{}, nil, fmt.Errorf("%s-%s runtime is unknown", request.Language, request.Version)
	}

	submission := types.Submission{
		Code:       request.Code,
		EntryPoint: request.EntryPoint,
		TestCases:  request.TestCases,
	}
	if err := h.jobManager.Validate(submission); err != nil {
		return types.Submission{}, nil, err
	}

	return submission, rt, nil
}

// validateEvaluateRequest validates the incoming evaluation request
func validateEvaluateRequest(request *types.EvaluateRequest) error {
	if request.Code == "" {
		return fmt.Errorf("code is required as a string")
	}

	if request.TestCases == nil {
		return fmt.Errorf("testCases is required as an array")
	}

	for i, tc := range request.TestCases {
		if tc.Name == "" {
			return fmt.Errorf("testCases[%d].name is required as a string", i)
		}
	}

	return nil
}

// decode reads a JSON body, writing the error response itself on failure
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.sendError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		h.sendError(w, "Invalid JSON request", http.StatusBadRequest)
		return false
	}
	return true
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, message string, statusCode int) {
	response := types.ErrorResponse{
		Message: message,
		Code:    statusCode,
	}
	h.sendJSON(w, response, statusCode)
}

// sendJSON sends a JSON response
func (h *Handler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
