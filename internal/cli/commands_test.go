package cli

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/10d3/nexora/internal/remote/stub"
	"github.com/10d3/nexora/internal/schema"
)

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestCustomerAdd_OfflineQueuesThenDrainSyncs(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "--offline", "customer", "add", "--first", "Ada", "--last", "Lovelace")
	require.NoError(t, err)
	assert.Contains(t, out, "(Ada Lovelace) saved locally; queued for sync")
	assert.Zero(t, e.stub.Calls("create_customer"))

	out, err = e.run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "create_customer")

	out, err = e.run(t, "--offline", "customer", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada Lovelace")

	out, err = e.run(t, "--format", "json", "drain")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["succeeded"])
	assert.Equal(t, float64(0), data["remaining"])

	require.Len(t, e.stub.Records("customer", "t1"), 1)

	out, err = e.run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")
}

func TestCustomerAdd_OnlineCreatesRemotely(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "--format", "json", "customer", "add", "--first", "Grace", "--last", "Hopper")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	data := resp.Data.(map[string]any)
	assert.Equal(t, false, data["queued"])
	assert.Equal(t, 1, e.stub.Calls("create_customer"))
}

func TestCustomerAdd_ValidationFailure(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "--offline", "customer", "add", "--first", "Ada", "--last", "Lovelace", "--email", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, schema.IsValidationError(err))

	out, err := e.run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")
}

func TestCustomerAdd_RequiresRemote(t *testing.T) {
	e := newEnv(t)
	e.config = e.writeConfig(t, "db: "+e.db+"\ntenant: t1\nlog:\n  level: error\n")
	_, err := e.run(t, "customer", "add", "--first", "Ada", "--last", "Lovelace")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDrain_DropsAfterThreeFailuresAndAck(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "--offline", "customer", "add", "--first", "Ada", "--last", "Lovelace")
	require.NoError(t, err)

	e.stub.Fail("create_customer", -1, http.StatusUnprocessableEntity, "rejected")
	for i := 0; i < 3; i++ {
		_, err := e.run(t, "drain")
		require.NoError(t, err)
	}

	out, err := e.run(t, "--format", "json", "queue", "dropped")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	rows := resp.Data.([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, "create_customer", row["name"])
	assert.Contains(t, row["last_error"], "rejected")

	out, err = e.run(t, "--offline", "customer", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no customers", "optimistic create was rolled back")

	_, err = e.run(t, "queue", "ack", row["id"].(string))
	require.NoError(t, err)
	out, err = e.run(t, "queue", "dropped")
	require.NoError(t, err)
	assert.Contains(t, out, "no unsynced changes")
}

func TestDrain_OfflineFails(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "--offline", "drain")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestMirrorGetListAndReset(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "--offline", "--format", "json", "customer", "add", "--first", "Ada", "--last", "Lovelace")
	require.NoError(t, err)
	id := decodeResponse(t, out).Data.(map[string]any)["customer"].(map[string]any)["id"].(string)

	out, err = e.run(t, "mirror", "get", "customer", id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
	assert.Contains(t, out, `"lastName":"Lovelace"`)

	out, err = e.run(t, "mirror", "list", "customer_profile")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, err = e.run(t, "mirror", "list", "customer", "--tenant", "t2")
	require.NoError(t, err)
	assert.Contains(t, out, "no records")

	_, err = e.run(t, "mirror", "get", "spaceship", id)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = e.run(t, "reset")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = e.run(t, "reset", "--yes")
	require.NoError(t, err)

	_, err = e.run(t, "mirror", "get", "customer", id)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	out, err = e.run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"tenantId":"t1","name":"Tea","priceCents":350}`), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte(`[
		{"tenantId":"t1","name":"Tea","priceCents":350},
		{"tenantId":"t1","name":"Cake","priceCents":-1}
	]`), 0o600))

	out, err := executeCommand(t, "validate", "product", good)
	require.NoError(t, err)
	assert.Contains(t, out, "1 product document(s) valid")

	out, err = executeCommand(t, "--format", "json", "validate", "product", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var resp struct {
		Data ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, 1, resp.Data.Errors[0].Index)
	assert.Equal(t, "priceCents", resp.Data.Errors[0].Field)
}

func TestValidateCommand_Stdin(t *testing.T) {
	cmd := NewRootCommand()
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetErr(&strings.Builder{})
	cmd.SetIn(strings.NewReader(`{"tenantId":"t1","firstName":"Ada"}`))
	cmd.SetArgs([]string{"validate", "customer", "-"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, out.String(), "lastName")
}

func TestValidateCommand_BadSchema(t *testing.T) {
	dir := t.TempDir()
	schemaFile := filepath.Join(dir, "bad.cue")
	doc := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(schemaFile, []byte("collections: {"), 0o600))
	require.NoError(t, os.WriteFile(doc, []byte(`{}`), 0o600))

	_, err := executeCommand(t, "validate", "--schema", schemaFile, "product", doc)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServeStub_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := &cobra.Command{}
	out := &strings.Builder{}
	cmd.SetOut(out)

	done := make(chan error, 1)
	go func() {
		done <- serveStub(ctx, ln, stub.New(schema.MustDefault()), cmd, zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	e := newEnv(t)
	cmd := NewRootCommand()
	cmd.SetOut(&strings.Builder{})
	cmd.SetErr(&strings.Builder{})
	cmd.SetArgs([]string{"--config", e.config, "run"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, cmd.ExecuteContext(ctx))
}
