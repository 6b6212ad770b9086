package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"comicsdb/api/internal/archive"
	"comicsdb/api/internal/auth"
	"comicsdb/api/internal/config"
	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/oi"
	"comicsdb/api/internal/store"
)

const (
	indexerID = 10
	newbieID  = 11
	editorID  = 20
	adminID   = 30
	viewerID  = 40
)

type testEnv struct {
	t       *testing.T
	store   *store.MemoryStore
	service *Service
	handler http.Handler
	ids     map[string]int64
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	cfg := config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour}
	cfg.OI = oi.DefaultConfig()
	engine := oi.New(mem, cfg.OI, oi.WithNotifier(&notify.Recorder{}))

	for _, indexer := range []store.Indexer{
		{UserID: indexerID, Name: "Ada", Role: "indexer", MaxReservations: 12, MaxOngoing: 4},
		{UserID: newbieID, Name: "Newt", Role: "indexer"},
		{UserID: editorID, Name: "Eddie", Role: "editor", MaxReservations: 12, MaxOngoing: 4},
		{UserID: adminID, Name: "Root", Role: "admin", MaxReservations: 12, MaxOngoing: 4},
		{UserID: viewerID, Name: "Vic", Role: "viewer", MaxReservations: 12},
	} {
		if _, err := engine.RegisterIndexer(ctx, indexer); err != nil {
			t.Fatalf("register indexer %d: %v", indexer.UserID, err)
		}
	}

	ids := map[string]int64{}
	err := mem.WithTx(ctx, func(tx store.Tx) error {
		create := func(name string, data store.Data) (int64, error) {
			rec := store.Record{Kind: data.Kind(), Data: data}
			if err := tx.CreateEntity(ctx, &rec); err != nil {
				return 0, err
			}
			ids[name] = rec.ID
			return rec.ID, nil
		}
		pub, err := create("publisher", &store.PublisherData{Name: "Marvel", CountryCode: "us"})
		if err != nil {
			return err
		}
		series, err := create("series", &store.SeriesData{
			Name: "Fantastic Four", SortName: "Fantastic Four", PublisherID: pub,
			LanguageCode: "en", CountryCode: "us", YearBegan: 1961, IsCurrent: true, IsComicsPublication: true,
		})
		if err != nil {
			return err
		}
		if _, err := create("issue1", &store.IssueData{SeriesID: series, Number: "1"}); err != nil {
			return err
		}
		_, err = create("issue2", &store.IssueData{SeriesID: series, Number: "2"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := NewService(cfg, engine, opts...)
	return &testEnv{t: t, store: mem, service: svc, handler: NewHTTPServer(svc, "*").Handler(), ids: ids}
}

func (e *testEnv) token(userID int64) string {
	e.t.Helper()
	token, err := e.service.IssueToken(context.Background(), userID, time.Hour)
	if err != nil {
		e.t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) do(method, path string, userID int64, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+e.token(userID))
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) map[string]any {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	return decode(t, rr)
}

func number(payload map[string]any, key string) int64 {
	value, _ := payload[key].(float64)
	return int64(value)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	payload := expectStatus(t, env.do(http.MethodGet, "/api/health", 0, nil), http.StatusOK)
	if ok, exists := payload["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

type failingCheck struct{}

func (failingCheck) Ready(context.Context) error { return errors.New("bucket missing") }

func TestReadyReportsOptionalChecks(t *testing.T) {
	env := newTestEnv(t, WithReadyCheck("covers", failingCheck{}))
	rr := env.do(http.MethodGet, "/api/ready", 0, nil)
	payload := expectStatus(t, rr, http.StatusOK)
	if payload["status"] != "ready" {
		t.Fatalf("expected ready, got %v", payload["status"])
	}
	checks := payload["checks"].(map[string]any)
	covers := checks["covers"].(map[string]any)
	if covers["status"] != "degraded" {
		t.Fatalf("expected degraded covers check, got %v", covers)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(http.MethodGet, "/api/oi/queues/open", 0, nil), http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/api/oi/queues/open", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	stranger, err := auth.IssueToken([]byte("test-secret"), auth.NewClaims(999, "Stranger", "admin", time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/oi/queues/open", nil)
	req.Header.Set("Authorization", "Bearer "+stranger)
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", rr.Code)
	}
}

func TestSessionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	payload := expectStatus(t, env.do(http.MethodGet, "/api/session", editorID, nil), http.StatusOK)
	if payload["authenticated"] != true || payload["userName"] != "Eddie" || payload["role"] != "editor" {
		t.Fatalf("unexpected session %v", payload)
	}
	payload = expectStatus(t, env.do(http.MethodGet, "/api/session", 0, nil), http.StatusOK)
	if payload["authenticated"] != false {
		t.Fatalf("expected anonymous session, got %v", payload)
	}
}

func TestChangesetRoundTripOverHTTP(t *testing.T) {
	archiveDir := filepath.Join(t.TempDir(), "history")
	env := newTestEnv(t, WithArchive(archive.New(archiveDir)))
	// The engine only mirrors approvals when wired with the archive.
	env.service.oi = oi.New(env.store, oi.DefaultConfig(), oi.WithNotifier(&notify.Recorder{}), oi.WithArchive(env.service.archive))
	issueID := env.ids["issue1"]

	cs := expectStatus(t, env.do(http.MethodPost, "/api/oi/reserve", indexerID, map[string]any{
		"kind": "issue", "id": issueID, "notes": "adding the price",
	}), http.StatusCreated)
	csID := number(cs, "id")
	if cs["state"] != "open" || cs["changeType"] != "issue" {
		t.Fatalf("unexpected changeset %v", cs)
	}

	view := expectStatus(t, env.do(http.MethodGet, "/api/oi/changesets/"+itoa(csID), indexerID, nil), http.StatusOK)
	revisions := view["revisions"].([]any)
	if len(revisions) != 1 {
		t.Fatalf("expected 1 revision, got %d", len(revisions))
	}
	revID := number(revisions[0].(map[string]any), "id")

	rev := expectStatus(t, env.do(http.MethodPut, "/api/oi/revisions/"+itoa(revID), indexerID, map[string]any{
		"data": map[string]any{"price": "0.10 USD"},
	}), http.StatusOK)
	data := rev["data"].(map[string]any)
	if data["price"] != "0.10 USD" || data["number"] != "1" {
		t.Fatalf("expected the edit to keep the other fields, got %v", data)
	}

	expectStatus(t, env.do(http.MethodPut, "/api/oi/revisions/"+itoa(revID), indexerID, map[string]any{
		"data": map[string]any{"prize": "typo"},
	}), http.StatusUnprocessableEntity)

	diff := expectStatus(t, env.do(http.MethodGet, "/api/oi/changesets/"+itoa(csID)+"/compare", indexerID, nil), http.StatusOK)
	if diff["isChanged"] != true {
		t.Fatalf("expected a change, got %v", diff)
	}

	expectStatus(t, env.do(http.MethodPost, "/api/oi/changesets/"+itoa(csID)+"/submit", indexerID, map[string]any{"notes": "source: cover"}), http.StatusOK)

	pending := expectStatus(t, env.do(http.MethodGet, "/api/oi/queues/pending", editorID, nil), http.StatusOK)
	if len(pending["items"].([]any)) != 1 {
		t.Fatalf("expected one pending changeset, got %v", pending)
	}
	expectStatus(t, env.do(http.MethodGet, "/api/oi/queues/pending", indexerID, nil), http.StatusForbidden)

	expectStatus(t, env.do(http.MethodPost, "/api/oi/changesets/"+itoa(csID)+"/assign", editorID, nil), http.StatusOK)
	approved := expectStatus(t, env.do(http.MethodPost, "/api/oi/changesets/"+itoa(csID)+"/approve", editorID, map[string]any{"notes": "thanks"}), http.StatusOK)
	if approved["state"] != "approved" {
		t.Fatalf("expected approved, got %v", approved["state"])
	}

	history := expectStatus(t, env.do(http.MethodGet, "/api/oi/history/issue/"+itoa(issueID), indexerID, nil), http.StatusOK)
	if len(history["items"].([]any)) != 1 {
		t.Fatalf("expected one archived commit, got %v", history)
	}

	stats := expectStatus(t, env.do(http.MethodGet, "/api/stats", 0, nil), http.StatusOK)
	if _, ok := stats["counts"].(map[string]any); !ok {
		t.Fatalf("expected counts, got %v", stats)
	}
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t)
	issueID := env.ids["issue1"]

	expectStatus(t, env.do(http.MethodPost, "/api/oi/reserve", indexerID, map[string]any{"kind": "issue", "id": issueID}), http.StatusCreated)

	conflict := expectStatus(t, env.do(http.MethodPost, "/api/oi/reserve", editorID, map[string]any{"kind": "issue", "id": issueID}), http.StatusConflict)
	if conflict["code"] != oi.CodeAlreadyReserved {
		t.Fatalf("expected %s, got %v", oi.CodeAlreadyReserved, conflict["code"])
	}

	expectStatus(t, env.do(http.MethodPost, "/api/oi/reserve", newbieID, map[string]any{"kind": "issue", "id": env.ids["issue2"]}), http.StatusCreated)
	quota := expectStatus(t, env.do(http.MethodPost, "/api/oi/reserve", newbieID, map[string]any{"kind": "series", "id": env.ids["series"]}), http.StatusTooManyRequests)
	if quota["code"] != oi.CodeQuotaExceeded {
		t.Fatalf("expected %s, got %v", oi.CodeQuotaExceeded, quota["code"])
	}

	expectStatus(t, env.do(http.MethodPost, "/api/oi/reserve", viewerID, map[string]any{"kind": "publisher", "id": env.ids["publisher"]}), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodPost, "/api/oi/reserve", indexerID, map[string]any{"kind": "publisher", "id": 9999}), http.StatusNotFound)
	expectStatus(t, env.do(http.MethodPost, "/api/oi/add", indexerID, map[string]any{"kind": "series", "data": map[string]any{"name": ""}}), http.StatusUnprocessableEntity)
	expectStatus(t, env.do(http.MethodPost, "/api/oi/add", indexerID, map[string]any{"kind": "spaceship"}), http.StatusUnprocessableEntity)
	expectStatus(t, env.do(http.MethodGet, "/api/oi/changesets/9999", indexerID, nil), http.StatusNotFound)
	expectStatus(t, env.do(http.MethodGet, "/api/oi/changesets/abc", indexerID, nil), http.StatusBadRequest)
}

func TestAddSeriesWithDefaults(t *testing.T) {
	env := newTestEnv(t)
	blank := expectStatus(t, env.do(http.MethodGet, "/api/oi/new/series", indexerID, nil), http.StatusOK)
	data := blank["data"].(map[string]any)
	if data["is_comics_publication"] != true {
		t.Fatalf("expected comics publication default, got %v", data)
	}

	cs := expectStatus(t, env.do(http.MethodPost, "/api/oi/add", indexerID, map[string]any{
		"kind": "series",
		"data": map[string]any{
			"name": "The Silver Surfer", "publisher_id": env.ids["publisher"],
			"language_code": "en", "country_code": "us", "year_began": 1968,
		},
		"requestOngoing": true,
	}), http.StatusCreated)
	if cs["changeType"] != "series" {
		t.Fatalf("unexpected change type %v", cs["changeType"])
	}
	view := expectStatus(t, env.do(http.MethodGet, "/api/oi/changesets/"+itoa(number(cs, "id")), indexerID, nil), http.StatusOK)
	rev := view["revisions"].([]any)[0].(map[string]any)
	if rev["added"] != true || rev["reservationRequested"] != true {
		t.Fatalf("unexpected revision %v", rev)
	}
	if rev["data"].(map[string]any)["sort_name"] != "Silver Surfer" {
		t.Fatalf("expected derived sort name, got %v", rev["data"])
	}
}

func TestOngoingReservationRoutes(t *testing.T) {
	env := newTestEnv(t)
	seriesID := env.ids["series"]

	res := expectStatus(t, env.do(http.MethodPost, "/api/oi/ongoing", indexerID, map[string]any{"seriesId": seriesID}), http.StatusCreated)
	if number(res, "indexerId") != indexerID {
		t.Fatalf("unexpected reservation %v", res)
	}
	expectStatus(t, env.do(http.MethodPost, "/api/oi/ongoing", editorID, map[string]any{"seriesId": seriesID}), http.StatusConflict)
	expectStatus(t, env.do(http.MethodDelete, "/api/oi/ongoing/"+itoa(seriesID), editorID, nil), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodDelete, "/api/oi/ongoing/"+itoa(seriesID), indexerID, nil), http.StatusOK)
	expectStatus(t, env.do(http.MethodDelete, "/api/oi/ongoing/"+itoa(seriesID), indexerID, nil), http.StatusNotFound)
}

func TestCleanupRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(http.MethodPost, "/api/oi/cleanup", editorID, map[string]any{"weeks": 3}), http.StatusForbidden)
	payload := expectStatus(t, env.do(http.MethodPost, "/api/oi/cleanup", adminID, map[string]any{"weeks": 3}), http.StatusOK)
	if number(payload, "cleared") != 0 {
		t.Fatalf("expected nothing cleared, got %v", payload)
	}
}

func TestStatsRejectsLanguageAndCountry(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(http.MethodGet, "/api/stats?language=en&country=us", 0, nil), http.StatusUnprocessableEntity)
}

func TestSearchWithoutBackend(t *testing.T) {
	env := newTestEnv(t)
	payload := expectStatus(t, env.do(http.MethodGet, "/api/search?q=fantastic", indexerID, nil), http.StatusOK)
	if payload["query"] != "fantastic" || len(payload["results"].([]any)) != 0 {
		t.Fatalf("unexpected search response %v", payload)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestInboxReadsRedisOutbox(t *testing.T) {
	mr := miniredis.RunT(t)
	queue := notify.NewRedisQueueWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	env := newTestEnv(t, WithInbox(queue), WithReadyCheck("redis", ReadyFunc(queue.Ping)))
	env.service.oi = oi.New(env.store, oi.DefaultConfig(), oi.WithNotifier(queue))

	cs := expectStatus(t, env.do(http.MethodPost, "/api/oi/reserve", indexerID, map[string]any{"kind": "issue", "id": env.ids["issue1"]}), http.StatusCreated)
	csID := itoa(number(cs, "id"))
	expectStatus(t, env.do(http.MethodPost, "/api/oi/changesets/"+csID+"/submit", indexerID, map[string]any{"notes": "new printing"}), http.StatusOK)

	pending := expectStatus(t, env.do(http.MethodGet, "/api/oi/inbox?queue=pending", editorID, nil), http.StatusOK)
	if len(pending["items"].([]any)) != 1 {
		t.Fatalf("expected one pending notification, got %v", pending)
	}
	expectStatus(t, env.do(http.MethodGet, "/api/oi/inbox?queue=pending", indexerID, nil), http.StatusForbidden)

	expectStatus(t, env.do(http.MethodPost, "/api/oi/changesets/"+csID+"/assign", editorID, nil), http.StatusOK)
	expectStatus(t, env.do(http.MethodPost, "/api/oi/changesets/"+csID+"/disapprove", editorID, map[string]any{"notes": "which printing?"}), http.StatusOK)

	mine := expectStatus(t, env.do(http.MethodGet, "/api/oi/inbox", indexerID, nil), http.StatusOK)
	items := mine["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["event"] != string(notify.EventDisapproved) {
		t.Fatalf("expected a disapproval notice, got %v", mine)
	}

	ready := expectStatus(t, env.do(http.MethodGet, "/api/ready", 0, nil), http.StatusOK)
	if ready["checks"].(map[string]any)["redis"].(map[string]any)["status"] != "ok" {
		t.Fatalf("expected redis ok, got %v", ready["checks"])
	}
}

func TestAddIssuesNumbersARun(t *testing.T) {
	env := newTestEnv(t)
	seriesID := env.ids["series"]

	cs := expectStatus(t, env.do(http.MethodPost, "/api/oi/add-issues", indexerID, map[string]any{
		"seriesId": seriesID, "method": "year", "count": 3, "perCycle": 2, "firstYear": 1962,
		"template": map[string]any{"price": "0.12 USD"},
	}), http.StatusCreated)
	view := expectStatus(t, env.do(http.MethodGet, "/api/oi/changesets/"+itoa(number(cs, "id")), indexerID, nil), http.StatusOK)
	revisions := view["revisions"].([]any)
	if len(revisions) != 3 {
		t.Fatalf("expected 3 issue revisions, got %d", len(revisions))
	}
	var numbers []string
	for _, rev := range revisions {
		data := rev.(map[string]any)["data"].(map[string]any)
		if data["price"] != "0.12 USD" {
			t.Fatalf("template not applied: %v", data)
		}
		numbers = append(numbers, data["number"].(string))
	}
	if numbers[0] != "1/1962" || numbers[1] != "2/1962" || numbers[2] != "1/1963" {
		t.Fatalf("unexpected numbers %v", numbers)
	}

	expectStatus(t, env.do(http.MethodPost, "/api/oi/add-issues", indexerID, map[string]any{
		"seriesId": seriesID, "method": "number", "count": 2, "firstNumber": 2,
	}), http.StatusConflict)
	expectStatus(t, env.do(http.MethodPost, "/api/oi/add-issues", indexerID, map[string]any{
		"seriesId": seriesID, "method": "fortnight", "count": 2,
	}), http.StatusUnprocessableEntity)
}
