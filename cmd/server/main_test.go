package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/coderunr/evaluator/internal/config"
	"github.com/coderunr/evaluator/internal/job"
	"github.com/coderunr/evaluator/internal/runtime"
	"github.com/coderunr/evaluator/internal/service"
	"github.com/coderunr/evaluator/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stripSpaces = `function solution(s: string): string {
  return s.replace(/\s+/g, "");
}
`

const catalogJSON = `[
  {
    "id": "strip-spaces",
    "title": "Strip spaces",
    "difficulty": "easy",
    "starterCode": "function solution(s: string): string {\n  return s;\n}\n",
    "solution": "function solution(s: string): string { return s.split(' ').join(''); }",
    "testCases": [
      {"name": "Removes spaces", "input": "\"  Hello  World  \"", "expectedOutput": "\"HelloWorld\""},
      {"name": "Handles empty string", "input": "\"\"", "expectedOutput": "\"\""}
    ]
  }
]`

func setupRouter(t *testing.T) http.Handler {
	t.Helper()

	catalogPath := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(catalogPath, []byte(catalogJSON), 0644))

	cfg := config.Default()
	cfg.CatalogURL = catalogPath

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return newRouter(cfg, logger, job.NewManager(cfg), runtime.NewManager(), service.NewCatalogService(cfg, logger))
}

func TestAPIEndpoints(t *testing.T) {
	r := setupRouter(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           interface{}
		rawBody        string
		contentType    string
		expectedStatus int
		checkResponse  func(t *testing.T, body []byte)
	}{
		{
			name:           "Health Check",
			method:         "GET",
			path:           "/health",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				assert.Equal(t, "OK", string(body))
			},
		},
		{
			name:           "Get Version",
			method:         "GET",
			path:           "/",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				require.NoError(t, json.Unmarshal(body, &response))
				assert.NotEmpty(t, response["message"])
			},
		},
		{
			name:           "Get Runtimes",
			method:         "GET",
			path:           "/api/v2/runtimes",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var runtimes []types.RuntimeInfo
				require.NoError(t, json.Unmarshal(body, &runtimes))
				require.Len(t, runtimes, 1)
				assert.Equal(t, "typescript", runtimes[0].Language)
				assert.Equal(t, "es2015", runtimes[0].Target)
				assert.Contains(t, runtimes[0].Aliases, "ts")
			},
		},
		{
			name:   "Evaluate - Passing Submission",
			method: "POST",
			path:   "/api/v2/evaluate",
			body: map[string]interface{}{
				"language": "ts",
				"code":     stripSpaces,
				"testCases": []map[string]string{
					{"name": "Removes spaces", "input": `"  Hello  World  "`, "expectedOutput": `"HelloWorld"`},
					{"name": "Handles empty string", "input": `""`, "expectedOutput": `""`},
				},
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var response types.ExecutionResponse
				require.NoError(t, json.Unmarshal(body, &response))
				require.True(t, response.Success, response.Error)
				require.Len(t, response.Results, 2)
				assert.Equal(t, "Removes spaces", response.Results[0].Name)
				assert.True(t, response.Results[0].Passed)
				assert.True(t, response.Results[1].Passed)
			},
		},
		{
			name:   "Evaluate - Compile Error",
			method: "POST",
			path:   "/api/v2/evaluate",
			body: map[string]interface{}{
				"code": "function solution(s: string): string { return missing + s; }",
				"testCases": []map[string]string{
					{"name": "one", "input": `"a"`, "expectedOutput": `"a"`},
				},
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				require.NoError(t, json.Unmarshal(body, &response))
				assert.Equal(t, false, response["success"])
				assert.NotEmpty(t, response["error"])
				_, hasResults := response["results"]
				assert.False(t, hasResults)
			},
		},
		{
			name:   "Evaluate - Missing Code",
			method: "POST",
			path:   "/api/v2/evaluate",
			body: map[string]interface{}{
				"testCases": []map[string]string{},
			},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, body []byte) {
				var response map[string]interface{}
				require.NoError(t, json.Unmarshal(body, &response))
				assert.Contains(t, response["message"], "code is required")
			},
		},
		{
			name:   "Evaluate - Unknown Runtime",
			method: "POST",
			path:   "/api/v2/evaluate",
			body: map[string]interface{}{
				"language":  "python",
				"code":      "print('hello')",
				"testCases": []map[string]string{},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "Evaluate - Invalid Entry Point",
			method: "POST",
			path:   "/api/v2/evaluate",
			body: map[string]interface{}{
				"code":       stripSpaces,
				"entryPoint": "not valid",
				"testCases":  []map[string]string{},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Evaluate - Invalid JSON",
			method:         "POST",
			path:           "/api/v2/evaluate",
			rawBody:        "invalid json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Evaluate - Wrong Content Type",
			method:         "POST",
			path:           "/api/v2/evaluate",
			rawBody:        "{}",
			contentType:    "text/plain",
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:           "List Challenges",
			method:         "GET",
			path:           "/api/v2/challenges",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var infos []types.ChallengeInfo
				require.NoError(t, json.Unmarshal(body, &infos))
				require.Len(t, infos, 1)
				assert.Equal(t, "strip-spaces", infos[0].ID)
				assert.Equal(t, 2, infos[0].TestCount)
			},
		},
		{
			name:           "Get Challenge Hides Solution",
			method:         "GET",
			path:           "/api/v2/challenges/strip-spaces",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var challenge types.Challenge
				require.NoError(t, json.Unmarshal(body, &challenge))
				assert.Equal(t, "Strip spaces", challenge.Title)
				assert.Empty(t, challenge.Solution)
				assert.Len(t, challenge.TestCases, 2)
			},
		},
		{
			name:           "Get Unknown Challenge",
			method:         "GET",
			path:           "/api/v2/challenges/nope",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:   "Evaluate Challenge",
			method: "POST",
			path:   "/api/v2/challenges/strip-spaces/evaluate",
			body: map[string]interface{}{
				"code": stripSpaces,
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var response types.ExecutionResponse
				require.NoError(t, json.Unmarshal(body, &response))
				require.True(t, response.Success, response.Error)
				assert.True(t, response.Passed())
			},
		},
		{
			name:           "Metrics",
			method:         "GET",
			path:           "/metrics",
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			var err error

			switch {
			case tt.body != nil:
				bodyBytes, _ := json.Marshal(tt.body)
				req, err = http.NewRequest(tt.method, tt.path, bytes.NewBuffer(bodyBytes))
			case tt.rawBody != "":
				req, err = http.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.rawBody))
			default:
				req, err = http.NewRequest(tt.method, tt.path, nil)
			}
			require.NoError(t, err)

			if tt.method == "POST" {
				contentType := tt.contentType
				if contentType == "" {
					contentType = "application/json"
				}
				req.Header.Set("Content-Type", contentType)
			}

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())

			if tt.checkResponse != nil {
				tt.checkResponse(t, rr.Body.Bytes())
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	cfg := config.Default()
	cfg.RequestBodyLimit = 64
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	r := newRouter(cfg, logger, job.NewManager(cfg), runtime.NewManager(), service.NewCatalogService(cfg, logger))

	body, _ := json.Marshal(map[string]interface{}{
		"code":      stripSpaces,
		"testCases": []map[string]string{},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v2/evaluate", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
