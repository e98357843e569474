package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/vcscsvcscs/regimen/internal/conflict"
	"github.com/vcscsvcscs/regimen/pkg/api"
)

// Malformed bodies on every JSON endpoint are answered with a structured
// VALIDATION_ERROR and never reach the services
func TestProperty_MalformedBodiesAreValidationErrors(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	srv := newTestServer(t, conflict.DefaultConfig())

	properties.Property("error responses carry code and message", prop.ForAll(
		func(route string, body string) bool {
			method := http.MethodPost
			if route == "/schedules/s1" {
				method = http.MethodPatch
			}

			w := srv.do(method, route, body)
			if w.Code != http.StatusBadRequest {
				t.Logf("%s %s with %q: expected 400, got %d", method, route, body, w.Code)
				return false
			}

			var errorResp api.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errorResp); err != nil {
				t.Logf("failed to parse error response: %v, body: %s", err, w.Body.String())
				return false
			}
			return errorResp.Code == api.CodeValidation && errorResp.Message != ""
		},
		gen.OneConstOf(
			"/schedule/check-conflicts",
			"/schedule/adjust",
			"/schedules",
			"/schedules/s1",
			"/schedules/s1/retire",
			"/schedules/s1/doses",
		),
		gen.OneConstOf(
			"{invalid json",
			`{"medication_id": }`,
			"[1,2,3",
			`{"times": ["8am"]}`,
			`{"start_date": "not-a-date"}`,
			`{"expected_version": "one"}`,
			`{"taken_at": "yesterday"}`,
		),
	))

	properties.TestingRun(t)
}
