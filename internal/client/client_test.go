package client

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/keybridge/internal/client/mocks"
	"github.com/mattjoyce/keybridge/internal/events"
	"github.com/mattjoyce/keybridge/internal/failure"
	"github.com/mattjoyce/keybridge/internal/journal"
	"github.com/mattjoyce/keybridge/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

const statusOK = `printf '{"Username":"alice","Device":{"name":"laptop"}}'`

// fakeKeybase writes a fake keybase binary into a fresh directory and returns
// the directory. API invocations save stdin to request.json and then run apiBody.
func fakeKeybase(t *testing.T, statusBody, apiBody string) string {
	t.Helper()
	dir := t.TempDir()
	script := `#!/bin/sh
dir=$(dirname "$0")
if [ "$1" = "--home" ]; then printf '%s' "$2" > "$dir/home.txt"; shift 2; fi
case "$1" in
status)
` + statusBody + `
;;
version)
printf '5.9.3-20220125213911+a4b5d8e4e8\n'
;;
*)
cat > "$dir/request.json"
` + apiBody + `
;;
esac
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keybase"), []byte(script), 0o755))
	return dir
}

func newClient(t *testing.T, dir string, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{WorkingDir: dir, KillGrace: 200 * time.Millisecond}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Deinit() })
	return c
}

func initClient(t *testing.T, dir string, mutate func(*Options)) *Client {
	t.Helper()
	c := newClient(t, dir, mutate)
	require.NoError(t, c.Init(context.Background(), ""))
	return c
}

func readRequest(t *testing.T, dir string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, "request.json"))
	require.NoError(t, err)
	return string(b)
}

func requireKind(t *testing.T, err error, kind failure.Kind) *failure.Error {
	t.Helper()
	require.Error(t, err)
	fe, ok := err.(*failure.Error)
	require.True(t, ok, "want *failure.Error, got %T: %v", err, err)
	require.Equal(t, kind, fe.Kind, "message %q", fe.Message)
	return fe
}

func TestNewRequiresWorkingDir(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestInitRecordsIdentity(t *testing.T) {
	dir := fakeKeybase(t, statusOK, `true`)
	c := newClient(t, dir, nil)
	assert.Equal(t, StateUninitialized, c.State())

	require.NoError(t, c.Init(context.Background(), "/srv/bot/home"))
	assert.True(t, c.Initialized())
	assert.Equal(t, "alice", c.Username())
	assert.Equal(t, "laptop", c.DeviceName())
	assert.Equal(t, "/srv/bot/home", c.HomeDir())

	home, err := os.ReadFile(filepath.Join(dir, "home.txt"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/bot/home", string(home))
}

func TestInitFailsWithoutIdentity(t *testing.T) {
	tests := []struct {
		name   string
		status string
	}{
		{"missing device", `printf '{"Username":"alice"}'`},
		{"empty username", `printf '{"Username":"","Device":{"name":"x"}}'`},
		{"not an object", `printf '[1,2]'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, fakeKeybase(t, tt.status, `true`), nil)
			err := c.Init(context.Background(), "")
			require.Error(t, err)
			assert.Equal(t, "failed to get current username and device name", err.Error())
			assert.False(t, c.Initialized())
		})
	}
}

func TestInitPropagatesProbeFailure(t *testing.T) {
	c := newClient(t, fakeKeybase(t, `echo 'not logged in' >&2; exit 1`, `true`), nil)
	fe := requireKind(t, c.Init(context.Background(), ""), failure.KindExit)
	assert.Equal(t, "not logged in\n", fe.Message)
}

func TestCallBeforeInitDoesNotSpawn(t *testing.T) {
	dir := fakeKeybase(t, statusOK, `printf '{"result":{}}'`)
	c := newClient(t, dir, nil)

	_, err := c.Call(context.Background(), APICall{API: "chat", Method: "list"})
	fe := requireKind(t, err, failure.KindNotInitialized)
	assert.Equal(t, "the client is not yet initialized", fe.Message)

	_, statErr := os.Stat(filepath.Join(dir, "request.json"))
	assert.True(t, os.IsNotExist(statErr), "binary must not be spawned")
}

func TestCallSuccess(t *testing.T) {
	dir := fakeKeybase(t, statusOK, `printf '{"result":{"conversations":[{"member_status":"active"}],"total_count":1}}'`)
	c := initClient(t, dir, nil)

	res, err := c.Call(context.Background(), APICall{API: "chat", Method: "list"})
	require.NoError(t, err)
	assert.Equal(t, `{"method":"list","params":{"version":1}}`, readRequest(t, dir))
	assert.Equal(t, map[string]any{
		"conversations": []any{map[string]any{"memberStatus": "active"}},
		"totalCount":    1.0,
	}, res)
}

func TestCallFormatsOptions(t *testing.T) {
	dir := fakeKeybase(t, statusOK, `printf '{"result":null}'`)
	c := initClient(t, dir, func(o *Options) {
		o.Versions = map[string]int{"chat": 2}
	})

	res, err := c.Call(context.Background(), APICall{
		API:     "chat",
		Method:  "send",
		Options: map[string]any{"channel": map[string]any{"membersType": "team"}},
	})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.JSONEq(t, `{"method":"send","params":{"version":2,"options":{"channel":{"members_type":"team"}}}}`, readRequest(t, dir))
}

func TestCallApplicationError(t *testing.T) {
	c := initClient(t, fakeKeybase(t, statusOK, `printf '{"error":{"message":"no such conversation","code":2}}'`), nil)

	_, err := c.Call(context.Background(), APICall{API: "chat", Method: "read"})
	fe := requireKind(t, err, failure.KindApplication)
	assert.Equal(t, "no such conversation", fe.Message)
}

func TestCallErrorFieldEdges(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		kind    failure.Kind
		message string
	}{
		{"empty message", `{"error":{"message":""}}`, failure.KindApplication, ""},
		{"no message", `{"error":{"code":3}}`, failure.KindApplication, ""},
		{"null error with result", `{"error":null,"result":{"x":1}}`, failure.KindApplication, ""},
		{"string error", `{"error":"x"}`, failure.KindApplication, ""},
		{"null document", `null`, failure.KindDecode, ""},
		{"array document", `[{"result":1}]`, failure.KindDecode, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := initClient(t, fakeKeybase(t, statusOK, `printf '%s' '`+tt.stdout+`'`), nil)

			res, err := c.Call(context.Background(), APICall{API: "chat", Method: "read"})
			assert.Nil(t, res)
			fe := requireKind(t, err, tt.kind)
			if tt.kind == failure.KindApplication {
				assert.Equal(t, tt.message, fe.Message)
			}
		})
	}
}

func TestCallNonZeroExit(t *testing.T) {
	c := initClient(t, fakeKeybase(t, statusOK, `printf 'api error: boom' >&2; exit 2`), nil)

	_, err := c.Call(context.Background(), APICall{API: "team", Method: "list-team-memberships"})
	fe := requireKind(t, err, failure.KindExit)
	assert.Equal(t, "api error: boom", fe.Message)
	assert.Equal(t, 2, fe.ExitCode)
}

func TestCallMalformedOutput(t *testing.T) {
	c := initClient(t, fakeKeybase(t, statusOK, `printf 'not json'`), nil)

	_, err := c.Call(context.Background(), APICall{API: "chat", Method: "list"})
	requireKind(t, err, failure.KindDecode)
}

func TestCallTimeoutKillsProcess(t *testing.T) {
	c := initClient(t, fakeKeybase(t, statusOK, `exec sleep 10`), nil)

	start := time.Now()
	_, err := c.Call(context.Background(), APICall{API: "chat", Method: "list", Timeout: 100 * time.Millisecond})
	fe := requireKind(t, err, failure.KindExit)
	assert.Equal(t, -1, fe.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, c.LiveProcesses())
}

func TestCallUsesConfiguredAPITimeout(t *testing.T) {
	c := initClient(t, fakeKeybase(t, statusOK, `exec sleep 10`), func(o *Options) {
		o.Timeouts = map[string]time.Duration{"chat": 100 * time.Millisecond}
	})

	start := time.Now()
	_, err := c.Call(context.Background(), APICall{API: "chat", Method: "list"})
	requireKind(t, err, failure.KindExit)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCallRejectsUnknownAPI(t *testing.T) {
	c := initClient(t, fakeKeybase(t, statusOK, `true`), nil)

	_, err := c.Call(context.Background(), APICall{API: "bogus", Method: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown api "bogus"`)
}

func TestCallPublishesAndJournals(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockJournal := mocks.NewMockJournal(ctrl)
	hub := events.NewHub(16)

	c := initClient(t, fakeKeybase(t, statusOK, `echo denied >&2; exit 3`), func(o *Options) {
		o.Journal = mockJournal
		o.Hub = hub
	})

	mockJournal.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e journal.Entry) error {
			assert.NotEmpty(t, e.ID)
			assert.Equal(t, "wallet", e.API)
			assert.Equal(t, "balances", e.Method)
			assert.Equal(t, journal.StatusFailed, e.Status)
			assert.Equal(t, string(failure.KindExit), e.Kind)
			assert.Equal(t, 3, e.ExitCode)
			assert.Equal(t, "denied\n", e.Error)
			return nil
		})

	_, err := c.Call(context.Background(), APICall{API: "wallet", Method: "balances"})
	requireKind(t, err, failure.KindExit)

	snap := hub.SnapshotSince(0)
	require.Len(t, snap, 2)
	assert.Equal(t, events.CallStarted, snap[0].Type)
	assert.Equal(t, events.CallFailed, snap[1].Type)
	assert.Contains(t, string(snap[1].Data), `"exit_code":3`)
}

func TestCallJournalErrorDoesNotFailCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockJournal := mocks.NewMockJournal(ctrl)
	mockJournal.EXPECT().Record(gomock.Any(), gomock.Any()).Return(assert.AnError)

	c := initClient(t, fakeKeybase(t, statusOK, `printf '{"result":"ok"}'`), func(o *Options) {
		o.Journal = mockJournal
	})

	res, err := c.Call(context.Background(), APICall{API: "kvstore", Method: "list"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
}

func TestConcurrentCallsAreIndependent(t *testing.T) {
	c := initClient(t, fakeKeybase(t, statusOK, `printf '{"result":{"ok":true}}'`), nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Call(context.Background(), APICall{API: "chat", Method: "list"})
			if err == nil && !assert.Equal(t, map[string]any{"ok": true}, res) {
				return
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestDeinitKillsLiveProcesses(t *testing.T) {
	c := initClient(t, fakeKeybase(t, statusOK, `exec sleep 30`), nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), APICall{API: "chat", Method: "list"})
		done <- err
	}()

	require.Eventually(t, func() bool { return c.LiveProcesses() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Deinit())

	select {
	case err := <-done:
		requireKind(t, err, failure.KindExit)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not finish after Deinit")
	}

	assert.Equal(t, StateDeinitialized, c.State())
	_, err := c.Call(context.Background(), APICall{API: "chat", Method: "list"})
	requireKind(t, err, failure.KindNotInitialized)
	assert.Error(t, c.Init(context.Background(), ""))
}

func TestListenStreamsLines(t *testing.T) {
	dir := fakeKeybase(t, statusOK, `printf '{"type":"chat","msg":1}\n{"type":"chat","msg":2}\r\npartial'`)
	hub := events.NewHub(16)
	c := initClient(t, dir, func(o *Options) { o.Hub = hub })

	var lines []string
	err := c.Listen(context.Background(), "chat", []string{"api-listen"}, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"type":"chat","msg":1}`, `{"type":"chat","msg":2}`, "partial"}, lines)

	snap := hub.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.Equal(t, events.ListenLine, snap[0].Type)
}

func TestListenStopsOnContextCancel(t *testing.T) {
	c := initClient(t, fakeKeybase(t, statusOK, `printf 'hello\n'; exec sleep 30`), nil)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Listen(ctx, "chat", []string{"api-listen"}, func(line string) { got <- line })
	}()

	select {
	case line := <-got:
		assert.Equal(t, "hello", line)
	case <-time.After(5 * time.Second):
		t.Fatal("no line received")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not stop")
	}
}

func TestListenRequiresInit(t *testing.T) {
	c := newClient(t, fakeKeybase(t, statusOK, `true`), nil)
	requireKind(t, c.Listen(context.Background(), "chat", nil, nil), failure.KindNotInitialized)
}

func TestVersion(t *testing.T) {
	c := newClient(t, fakeKeybase(t, statusOK, `true`), nil)

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5.9.3-20220125213911+a4b5d8e4e8", v.String())
	assert.Equal(t, uint64(5), v.Major())
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "v1.2.3\n", want: "1.2.3"},
		{raw: "6.0.2 (linux)", want: "6.0.2"},
		{raw: "", wantErr: true},
		{raw: "keybase", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v, err := ParseVersion(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestExecPrependsHome(t *testing.T) {
	dir := fakeKeybase(t, statusOK, `printf 'raw'`)
	c := initClient(t, dir, nil)
	require.NoError(t, c.Init(context.Background(), "/data/kb"))

	out, err := c.Exec(context.Background(), []string{"chat", "list"}, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "raw", out.Text())

	home, err := os.ReadFile(filepath.Join(dir, "home.txt"))
	require.NoError(t, err)
	assert.Equal(t, "/data/kb", string(home))
}

func TestExecUsesConfiguredHomeBeforeInit(t *testing.T) {
	dir := fakeKeybase(t, statusOK, `printf 'raw'`)
	c := newClient(t, dir, func(o *Options) { o.HomeDir = "/srv/kb" })
	assert.Equal(t, "/srv/kb", c.HomeDir())

	_, err := c.Exec(context.Background(), []string{"chat", "list"}, ExecOptions{})
	require.NoError(t, err)

	home, err := os.ReadFile(filepath.Join(dir, "home.txt"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/kb", string(home))
}
