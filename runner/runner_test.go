package runner

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/mock/gomock"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	"github.com/rudderlabs/rudder-go-kit/stats/memstats"

	"github.com/rudderlabs/bulk-delete/internal/publish"
	mock_publish "github.com/rudderlabs/bulk-delete/mocks/publish"
)

// resourcesAPI fails the first attempt of R2 and always answers 404 for R3.
type resourcesAPI struct {
	mu       sync.Mutex
	attempts map[string]int
	auth     []string
}

func (a *resourcesAPI) handler() http.Handler {
	srvMux := chi.NewMux()
	srvMux.Delete("/ver2/{siteID}/resources/{resourceID}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "resourceID")
		a.mu.Lock()
		a.attempts[id]++
		n := a.attempts[id]
		a.auth = append(a.auth, r.Header.Get("Authorization"))
		a.mu.Unlock()

		switch {
		case id == "R2" && n == 1:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("try again"))
		case id == "R3":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("resource not found,\nplease check"))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	return srvMux
}

type testEnv struct {
	runner     *Runner
	stdout     *bytes.Buffer
	stderr     *bytes.Buffer
	statsStore *memstats.Store
	api        *resourcesAPI
	baseURL    string
	dir        string
}

func newTestEnv(t *testing.T, publisher publish.Publisher) *testEnv {
	t.Helper()

	a := &resourcesAPI{attempts: make(map[string]int)}
	svr := httptest.NewServer(a.handler())
	t.Cleanup(svr.Close)

	statsStore, err := memstats.New()
	require.NoError(t, err)

	env := &testEnv{
		stdout:     &bytes.Buffer{},
		stderr:     &bytes.Buffer{},
		statsStore: statsStore,
		api:        a,
		baseURL:    svr.URL + "/ver2/",
		dir:        t.TempDir(),
	}
	env.runner = &Runner{
		conf:   config.New(),
		logger: logger.NOP,
		stdout: env.stdout,
		stderr: env.stderr,
		stats:  statsStore,
	}
	env.runner.newPublisher = env.runner.publisherFromFlags
	if publisher != nil {
		env.runner.newPublisher = func(*cli.Context) (publish.Publisher, error) {
			return publisher, nil
		}
	}
	return env
}

func (e *testEnv) writeInput(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(e.dir, "input.csv")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func (e *testEnv) args(output string, extra ...string) []string {
	args := []string{
		appName,
		"--site-id", "S",
		"--username", "u",
		"--password", "p",
		"--api-base-url", e.baseURL,
		"--retry-delay", "1ms",
		"--output", output,
	}
	return append(args, extra...)
}

func TestRun(t *testing.T) {
	t.Run("completed run is published", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		publisher := mock_publish.NewMockPublisher(ctrl)
		env := newTestEnv(t, publisher)

		input := env.writeInput(t, "resource_id,name\nR1,a\nR2,b\nR3,c\n")
		output := filepath.Join(env.dir, "output_results.csv")

		publisher.EXPECT().Publish(gomock.Any(), output).DoAndReturn(func(_ context.Context, localPath string) error {
			data, err := os.ReadFile(localPath)
			require.NoError(t, err)
			require.Equal(t, "resource_id,site_id,response_code,response_text\n"+
				"R1,S,204,\n"+
				"R2,S,204,\n"+
				"R3,S,404,resource not found; please check\n", string(data))
			return nil
		}).Times(1)

		exitCode := env.runner.Run(context.Background(), env.args(output, input))
		require.Equal(t, exitOK, exitCode, env.stderr.String())

		require.Equal(t, map[string]int{"R1": 1, "R2": 2, "R3": 2}, env.api.attempts)
		for _, auth := range env.api.auth {
			require.Equal(t, "Basic dTpw", auth)
		}

		require.Contains(t, env.stdout.String(), "Successful (2xx)")
		require.Contains(t, env.stdout.String(), "Total Records")
		require.Contains(t, env.stdout.String(), output)

		require.EqualValues(t, 2, env.statsStore.Get("bulk_delete_records", stats.Tags{"siteId": "S", "status": "success"}).LastValue())
		require.EqualValues(t, 1, env.statsStore.Get("bulk_delete_records", stats.Tags{"siteId": "S", "status": "failed"}).LastValue())
		require.EqualValues(t, 2, env.statsStore.Get("bulk_delete_retries", stats.Tags{"siteId": "S"}).LastValue())
	})

	t.Run("publish failure keeps the local file and the exit code", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		publisher := mock_publish.NewMockPublisher(ctrl)
		env := newTestEnv(t, publisher)

		input := env.writeInput(t, "resource_id\nR1\n")
		output := filepath.Join(env.dir, "out.csv")
		publisher.EXPECT().Publish(gomock.Any(), output).Return(errors.New("ssh: handshake failed")).Times(1)

		exitCode := env.runner.Run(context.Background(), env.args(output, input))
		require.Equal(t, exitOK, exitCode)

		data, err := os.ReadFile(output)
		require.NoError(t, err)
		require.Equal(t, "resource_id,site_id,response_code,response_text\nR1,S,204,\n", string(data))
		require.EqualValues(t, 1, env.statsStore.Get("bulk_delete_publish_failures", stats.Tags{
			"siteId":    "S",
			"publisher": "sftp",
		}).LastValue())
	})

	t.Run("missing resource_id column is fatal and nothing is published", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		publisher := mock_publish.NewMockPublisher(ctrl)
		env := newTestEnv(t, publisher)

		input := env.writeInput(t, "id,name\nR1,a\n")
		output := filepath.Join(env.dir, "out.csv")

		exitCode := env.runner.Run(context.Background(), env.args(output, input))
		require.Equal(t, exitFatal, exitCode)
		require.Contains(t, env.stderr.String(), "resource_id")
		require.NoFileExists(t, output)
		require.Empty(t, env.api.attempts)
	})

	t.Run("interrupted run is fatal", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		publisher := mock_publish.NewMockPublisher(ctrl)
		env := newTestEnv(t, publisher)

		input := env.writeInput(t, "resource_id\nR1\nR2\n")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		exitCode := env.runner.Run(ctx, env.args(filepath.Join(env.dir, "out.csv"), input))
		require.Equal(t, exitFatal, exitCode)
		require.Empty(t, env.api.attempts)
	})

	t.Run("unreadable input is fatal", func(t *testing.T) {
		env := newTestEnv(t, publish.NOP)
		exitCode := env.runner.Run(context.Background(), env.args(filepath.Join(env.dir, "out.csv"), filepath.Join(env.dir, "missing.csv")))
		require.Equal(t, exitFatal, exitCode)
	})
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name           string
		args           func(env *testEnv, input string) []string
		expectedStderr string
	}{
		{
			name: "missing required flag",
			args: func(env *testEnv, input string) []string {
				return []string{appName, "--username", "u", "--password", "p", input}
			},
			expectedStderr: "site-id",
		},
		{
			name: "missing input argument",
			args: func(env *testEnv, _ string) []string {
				return env.args(filepath.Join(env.dir, "out.csv"))
			},
			expectedStderr: "INPUT_CSV",
		},
		{
			name: "unknown publisher",
			args: func(env *testEnv, input string) []string {
				return env.args(filepath.Join(env.dir, "out.csv"), "--publisher", "ftp", input)
			},
			expectedStderr: `unknown publisher "ftp"`,
		},
		{
			name: "sftp publisher without host",
			args: func(env *testEnv, input string) []string {
				return env.args(filepath.Join(env.dir, "out.csv"), "--sftp-user", "u", "--sftp-pass", "p", input)
			},
			expectedStderr: "host is required",
		},
		{
			name: "unreadable private key",
			args: func(env *testEnv, input string) []string {
				return env.args(filepath.Join(env.dir, "out.csv"),
					"--sftp-host", "h", "--sftp-user", "u", "--sftp-private-key", filepath.Join(env.dir, "missing_key"), input)
			},
			expectedStderr: "reading private key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			input := env.writeInput(t, "resource_id\nR1\n")

			exitCode := env.runner.Run(context.Background(), tt.args(env, input))
			require.Equal(t, exitUsage, exitCode)
			require.Contains(t, env.stderr.String(), tt.expectedStderr)
			require.Empty(t, env.api.attempts)
		})
	}
}

func TestRunWithoutPublisher(t *testing.T) {
	env := newTestEnv(t, nil)
	input := env.writeInput(t, "resource_id\nR1\nR3\n")
	output := filepath.Join(env.dir, "out.csv")

	exitCode := env.runner.Run(context.Background(), env.args(output, "--publisher", "none", input))
	require.Equal(t, exitOK, exitCode)
	require.FileExists(t, output)
	require.Equal(t, map[string]int{"R1": 1, "R3": 2}, env.api.attempts)
}

func TestHelpDescribesEmptyResourceIDs(t *testing.T) {
	env := newTestEnv(t, nil)

	exitCode := env.runner.Run(context.Background(), []string{appName, "--help"})
	require.Equal(t, exitOK, exitCode)
	require.Contains(t, env.stdout.String(), `reported as failed with "empty resource_id"`)
	require.Empty(t, env.api.attempts)
}
