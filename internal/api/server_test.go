package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/flagcore/flagcore/internal/evaluation"
	"github.com/flagcore/flagcore/internal/flag"
	"github.com/flagcore/flagcore/internal/testutil"
)

const adminKey = "test-admin-key"

func authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminKey}
}

func TestHealthz(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/healthz"}).Do(t, stack.Server.Router())
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestCreateFlag(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")

	rr := (&testutil.HTTPRequest{
		Method:  http.MethodPost,
		Path:    "/v1/flags",
		Body:    `{"name":"checkout_v2","env":"prod","enabled":true,"rollout":30}`,
		Headers: authHeader(),
	}).Do(t, stack.Server.Router())

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var rec flag.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if rec.Version != 1 || rec.Rollout != 30 || !rec.Enabled {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestCreateFlag_DuplicateConflicts(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")
	router := stack.Server.Router()

	body := `{"name":"checkout_v2","env":"prod","enabled":true}`
	req := &testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/flags", Body: body, Headers: authHeader()}
	if rr := req.Do(t, router); rr.Code != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d", rr.Code)
	}
	if rr := req.Do(t, router); rr.Code != http.StatusConflict {
		t.Errorf("duplicate create: expected 409, got %d", rr.Code)
	}
}

func TestCreateFlag_Validation(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")
	router := stack.Server.Router()

	cases := []struct {
		name string
		body string
	}{
		{"rollout out of range", `{"name":"f","env":"prod","rollout":120}`},
		{"empty name", `{"name":"","env":"prod"}`},
		{"bad environment", `{"name":"f","env":"qa"}`},
		{"malformed json", `{"name":`},
	}
	for _, tc := range cases {
		rr := (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/flags", Body: tc.body, Headers: authHeader()}).Do(t, router)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, rr.Code)
		}
	}
}

func TestCreateFlag_RequiresAuth(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")
	router := stack.Server.Router()
	body := `{"name":"f","env":"prod"}`

	rr := (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/flags", Body: body}).Do(t, router)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rr.Code)
	}

	rr = (&testutil.HTTPRequest{
		Method: http.MethodPost, Path: "/v1/flags", Body: body,
		Headers: map[string]string{"Authorization": "Bearer wrong"},
	}).Do(t, router)
	if rr.Code != http.StatusForbidden {
		t.Errorf("bad token: expected 403, got %d", rr.Code)
	}
}

func TestGetFlag(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")
	enabled := true
	if err := testutil.SeedFlags(context.Background(), stack.Coordinator, []flag.Intent{
		{Key: flag.Key{Name: "feature_x", Env: "prod"}, Enabled: &enabled},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	router := stack.Server.Router()

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/flags/feature_x?env=prod"}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var rec flag.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if rec.Key.Name != "feature_x" || !rec.Enabled {
		t.Errorf("unexpected record: %+v", rec)
	}

	rr = (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/flags/ghost?env=prod"}).Do(t, router)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing flag, got %d", rr.Code)
	}
}

func TestListFlags_FilterByEnv(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")
	if err := testutil.SeedFlags(context.Background(), stack.Coordinator, []flag.Intent{
		{Key: flag.Key{Name: "a", Env: "prod"}},
		{Key: flag.Key{Name: "b", Env: "prod"}},
		{Key: flag.Key{Name: "c", Env: "dev"}},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	router := stack.Server.Router()

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/flags?env=prod"}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Flags []flag.Record `json:"flags"`
		Total int           `json:"total"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("expected 2 prod flags, got %d", resp.Total)
	}

	rr = (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/flags"}).Do(t, router)
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("expected 3 flags unfiltered, got %d", resp.Total)
	}
}

func TestUpdateFlag_IfMatch(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")
	if err := testutil.SeedFlags(context.Background(), stack.Coordinator, []flag.Intent{
		{Key: flag.Key{Name: "feature_x", Env: "prod"}},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	router := stack.Server.Router()

	headers := authHeader()
	headers["If-Match"] = "1"
	rr := (&testutil.HTTPRequest{
		Method:  http.MethodPatch,
		Path:    "/v1/flags/feature_x?env=prod",
		Body:    `{"rollout":55}`,
		Headers: headers,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rec flag.Record
	_ = json.Unmarshal(rr.Body.Bytes(), &rec)
	if rec.Version != 2 || rec.Rollout != 55 {
		t.Errorf("unexpected record: %+v", rec)
	}

	// Stale If-Match must 409 and leave the flag unchanged.
	rr = (&testutil.HTTPRequest{
		Method:  http.MethodPatch,
		Path:    "/v1/flags/feature_x?env=prod",
		Body:    `{"rollout":99}`,
		Headers: headers,
	}).Do(t, router)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for stale If-Match, got %d", rr.Code)
	}
	cached, _ := stack.Cache.Get(flag.Key{Name: "feature_x", Env: "prod"})
	if cached.Rollout != 55 {
		t.Errorf("flag changed on conflict: %+v", cached)
	}
}

func TestUpdateFlag_MissingIs404(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")

	rr := (&testutil.HTTPRequest{
		Method:  http.MethodPatch,
		Path:    "/v1/flags/ghost?env=prod",
		Body:    `{"rollout":10}`,
		Headers: authHeader(),
	}).Do(t, stack.Server.Router())
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestDeleteFlag(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")
	if err := testutil.SeedFlags(context.Background(), stack.Coordinator, []flag.Intent{
		{Key: flag.Key{Name: "feature_x", Env: "prod"}},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	router := stack.Server.Router()

	rr := (&testutil.HTTPRequest{
		Method:  http.MethodDelete,
		Path:    "/v1/flags/feature_x?env=prod",
		Headers: authHeader(),
	}).Do(t, router)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	rr = (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/flags/feature_x?env=prod"}).Do(t, router)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rr.Code)
	}

	// Deleting again is a 404, not an idempotent no-op: the tombstone is
	// terminal.
	rr = (&testutil.HTTPRequest{
		Method:  http.MethodDelete,
		Path:    "/v1/flags/feature_x?env=prod",
		Headers: authHeader(),
	}).Do(t, router)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for double delete, got %d", rr.Code)
	}
}

func TestEvaluate(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")
	enabled := true
	rollout := 100
	if err := testutil.SeedFlags(context.Background(), stack.Coordinator, []flag.Intent{
		{Key: flag.Key{Name: "feature_x", Env: "prod"}, Enabled: &enabled, Rollout: &rollout},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	router := stack.Server.Router()

	rr := (&testutil.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/v1/evaluate",
		Body:   `{"name":"feature_x","env":"prod","bucketingKey":"user-1"}`,
	}).Do(t, router)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var d evaluation.Decision
	if err := json.Unmarshal(rr.Body.Bytes(), &d); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if !d.Active || d.Reason != evaluation.ReasonRolloutIncluded {
		t.Errorf("unexpected decision: %+v", d)
	}

	rr = (&testutil.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/v1/evaluate",
		Body:   `{"name":"ghost","env":"prod","bucketingKey":"user-1"}`,
	}).Do(t, router)
	_ = json.Unmarshal(rr.Body.Bytes(), &d)
	if d.Active || d.Reason != evaluation.ReasonNotFound {
		t.Errorf("expected not_found decision, got %+v", d)
	}
}

func TestEvaluate_RolloutDistribution(t *testing.T) {
	stack := testutil.NewStack(t, adminKey, "salt")
	enabled := true
	rollout := 30
	if err := testutil.SeedFlags(context.Background(), stack.Coordinator, []flag.Intent{
		{Key: flag.Key{Name: "checkout_v2", Env: "prod"}, Enabled: &enabled, Rollout: &rollout},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	router := stack.Server.Router()

	active := 0
	const n = 2000
	for i := 0; i < n; i++ {
		rr := (&testutil.HTTPRequest{
			Method: http.MethodPost,
			Path:   "/v1/evaluate",
			Body:   fmt.Sprintf(`{"name":"checkout_v2","env":"prod","bucketingKey":"user-%d"}`, i),
		}).Do(t, router)
		var d evaluation.Decision
		_ = json.Unmarshal(rr.Body.Bytes(), &d)
		if d.Active {
			active++
		}
	}
	rate := float64(active) / n * 100
	if rate < 25 || rate > 35 {
		t.Errorf("inclusion rate %.1f%% outside tolerance for 30%% rollout", rate)
	}
}
