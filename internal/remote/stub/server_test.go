package stub

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/schema"
)

var stubNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return stubNow })}, opts...)
	s := New(schema.MustDefault(), opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, ts *httptest.Server, name, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/actions/"+name, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestCreateThenFetch(t *testing.T) {
	s, ts := newTestServer(t)

	resp, out := post(t, ts, "create_customer", `{"id":"c1","tenantId":"t1","firstName":"Ada","lastName":"Lovelace"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "c1", out["id"])
	assert.Equal(t, record.FormatTime(stubNow), out["createdAt"])

	post(t, ts, "create_customer", `{"id":"c2","tenantId":"t2","firstName":"Grace","lastName":"Hopper"}`)

	got := s.Records("customer", "t1")
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
	assert.Len(t, s.Records("customer", ""), 2)

	fetch, err := http.Post(ts.URL+"/actions/fetch_customer", "application/json", bytes.NewBufferString(`{"tenantId":"t2"}`))
	require.NoError(t, err)
	defer fetch.Body.Close()
	var list []map[string]any
	require.NoError(t, json.NewDecoder(fetch.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "Grace", list[0]["firstName"])
}

func TestCreateAssignsIDWhenMissing(t *testing.T) {
	_, ts := newTestServer(t)
	resp, out := post(t, ts, "create_customer", `{"tenantId":"t1","firstName":"Ada","lastName":"Lovelace"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, out["id"])
}

func TestCreateIsIdempotentOnReplay(t *testing.T) {
	s, ts := newTestServer(t)
	body := `{"id":"c1","tenantId":"t1","firstName":"Ada","lastName":"Lovelace"}`
	resp, _ := post(t, ts, "create_customer", body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = post(t, ts, "create_customer", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, s.Records("customer", "t1"), 1)
}

func TestUpdateKeepsCreatedAt(t *testing.T) {
	s, ts := newTestServer(t)
	created := stubNow.Add(-time.Hour)
	s.Seed("customer", record.Record{
		ID: "c1", TenantID: "t1", CreatedAt: &created,
		Attrs: record.Object{"firstName": record.String("Ada"), "lastName": record.String("Lovelace")},
	})

	resp, out := post(t, ts, "update_customer", `{"id":"c1","tenantId":"t1","firstName":"Ada","lastName":"King"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "King", out["lastName"])
	assert.Equal(t, record.FormatTime(created), out["createdAt"])
	assert.Equal(t, record.FormatTime(stubNow), out["updatedAt"])
}

func TestUpdateUnknownIs404(t *testing.T) {
	_, ts := newTestServer(t)
	resp, out := post(t, ts, "update_customer", `{"id":"nope","tenantId":"t1","firstName":"A","lastName":"B"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, out["error"], "not found")
}

func TestValidationIs422(t *testing.T) {
	_, ts := newTestServer(t)
	resp, out := post(t, ts, "create_product", `{"id":"p1","tenantId":"t1","name":"Tea","priceCents":-5}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, out["error"], "priceCents")
}

func TestGetAndDelete(t *testing.T) {
	s, ts := newTestServer(t)
	s.Seed("customer", record.Record{ID: "c1", TenantID: "t1",
		Attrs: record.Object{"firstName": record.String("Ada"), "lastName": record.String("Lovelace")}})

	resp, out := post(t, ts, "get_customer", `{"id":"c1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Lovelace", out["lastName"])

	resp, out = post(t, ts, "delete_customer", `{"id":"c1","tenantId":"t1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "c1", out["id"])
	assert.Empty(t, s.Records("customer", ""))

	resp, _ = post(t, ts, "get_customer", `{"id":"c1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownActionOrEntity(t *testing.T) {
	_, ts := newTestServer(t)
	resp, _ := post(t, ts, "launch_rocket", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = post(t, ts, "create_spaceship", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRejectsNonJSON(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/actions/create_customer", "text/plain", bytes.NewBufferString("hi"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestFailureInjection(t *testing.T) {
	s, ts := newTestServer(t)
	s.Fail("create_customer", 2, http.StatusServiceUnavailable, "maintenance")
	body := `{"id":"c1","tenantId":"t1","firstName":"Ada","lastName":"Lovelace"}`

	for i := 0; i < 2; i++ {
		resp, out := post(t, ts, "create_customer", body)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "maintenance", out["error"])
	}
	resp, _ := post(t, ts, "create_customer", body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 3, s.Calls("create_customer"))
}

func TestFailureInjection_ForeverUntilHeal(t *testing.T) {
	s, ts := newTestServer(t)
	s.Fail("fetch_customer", -1, http.StatusInternalServerError, "boom")
	for i := 0; i < 5; i++ {
		resp, _ := post(t, ts, "fetch_customer", `{"tenantId":"t1"}`)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	}
	s.Heal("fetch_customer")
	resp, err := http.Post(ts.URL+"/actions/fetch_customer", "application/json", bytes.NewBufferString(`{"tenantId":"t1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndRequestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	_, ts := newTestServer(t, WithLogger(zap.New(core)))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("request").Len() == 1
	}, time.Second, 5*time.Millisecond)
	entries := logs.FilterMessage("request").All()
	fields := entries[0].ContextMap()
	assert.Equal(t, "/healthz", fields["path"])
	assert.Equal(t, int64(http.StatusNoContent), fields["status"])
}
