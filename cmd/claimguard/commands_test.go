package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/claimguard/internal/config"
	"github.com/rcourtman/claimguard/internal/source"
	"github.com/rcourtman/claimguard/pkg/ensure"
)

const testClaims = `version: 1
products:
  groupware:
    ok: true
    claims:
      edition: pro
      seats: 10
      ratio: 0.75
      trial: false
      regions: [eu-west, us-east]
  expired:
    ok: false
`

func writeClaims(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claims.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// quietEnv keeps host settings out of the commands and silences logs so
// command output can be parsed.
func quietEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvClaimsPath, config.EnvPublicKey, config.EnvCacheDir, config.EnvCacheMaxAge,
		config.EnvAutoRefresh, config.EnvRefreshInterval, config.EnvFailOnWaitTimeout,
		config.EnvDebug, config.EnvLogFormat, config.EnvMetricsAddr,
	} {
		t.Setenv(k, "")
	}
	t.Setenv(config.EnvLogLevel, "error")
}

func resetFlags() {
	envFile = ""
	claimsPath = ""
	dumpWatch = false
	dumpJSON = false
	dumpTimeout = 5 * time.Second
	checkClaims = nil
	checkOps = nil
	checkMembers = nil
	checkAllowUntrusted = false
	checkAllowOffline = false
	checkJSON = false
	checkTimeout = 5 * time.Second
}

func execute(args ...string) (string, error) {
	resetFlags()
	var err error
	out := captureOutput(func() {
		rootCmd.SetArgs(args)
		err = rootCmd.Execute()
	})
	return out, err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	assert.Contains(t, out, "claimguard "+ensure.Version())
	assert.NotContains(t, out, "Built:")
}

func TestErrorsCmd(t *testing.T) {
	out, err := execute("errors")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, len(ensure.ErrNumericToTextMap)+1)
	assert.Equal(t, "#define CLAIMGUARD_ERRSTATUSSUCCESS\t0", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "#define CLAIMGUARD_ERRSTATUSUNKNOWN\t0x100\t// 256"))
	assert.Contains(t, out, "#define CLAIMGUARD_ERRENSUREUNKNOWNOPERATOR\t0x10008\t// 65544 Ensure failed, unknown operator")
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "#define CLAIMGUARD_ERRENSUREINVALIDTRANSACTION\t0x10009"))
}

func TestDumpCmd(t *testing.T) {
	quietEnv(t)
	path := writeClaims(t, testClaims)

	out, err := execute("dump", "--claims", path)
	require.NoError(t, err)
	assert.Contains(t, out, "generation: 1")
	assert.Contains(t, out, "online: true")
	assert.Contains(t, out, "trusted: false", "a relocated unsigned document is untrusted")
	assert.Contains(t, out, "edition: pro")
	assert.Contains(t, out, "seats: 10")
}

func TestDumpCmdJSON(t *testing.T) {
	quietEnv(t)
	path := writeClaims(t, testClaims)

	out, err := execute("dump", "--json", "--claims", path)
	require.NoError(t, err)

	var doc struct {
		Generation uint64 `json:"generation"`
		Online     bool   `json:"online"`
		Products   map[string]struct {
			OK     bool                   `json:"ok"`
			Claims map[string]interface{} `json:"claims"`
		} `json:"products"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, uint64(1), doc.Generation)
	assert.True(t, doc.Online)
	require.Contains(t, doc.Products, "groupware")
	assert.True(t, doc.Products["groupware"].OK)
	assert.False(t, doc.Products["expired"].OK)
	assert.Equal(t, []interface{}{"eu-west", "us-east"}, doc.Products["groupware"].Claims["regions"])
}

func TestDumpCmdMissingDocument(t *testing.T) {
	quietEnv(t)
	path := filepath.Join(t.TempDir(), "absent.yaml")

	resetFlags()
	captureOutput(func() {
		rootCmd.SetArgs([]string{"dump", "--claims", path, "--timeout", "100ms"})
		err := rootCmd.Execute()
		assert.ErrorIs(t, err, ensure.ErrStatusTimeout)
	})
}

func TestCheckCmd(t *testing.T) {
	quietEnv(t)
	path := writeClaims(t, testClaims)

	tests := []struct {
		name    string
		args    []string
		wantErr error
		want    []string
	}{
		{
			name:    "untrusted document is refused",
			args:    []string{"groupware"},
			wantErr: ensure.ErrEnsureTrustedFailed,
			want:    []string{"trusted=false", "ErrEnsureTrustedFailed"},
		},
		{
			name: "licensed with matching claims",
			args: []string{"groupware", "--allow-untrusted",
				"--claim", "edition=pro", "--claim", "trial=false", "--claim", "ratio=0.75",
				"--op", "seats:ge:5", "--op", "ratio:lt:1.0",
				"--member", "regions=eu-west"},
			want: []string{"ok groupware: ok", "eq groupware/edition", "ge groupware/seats", "member groupware/regions"},
		},
		{
			name:    "value mismatch",
			args:    []string{"groupware", "--allow-untrusted", "--op", "seats:gt:10"},
			wantErr: ensure.ErrEnsureProductClaimValueMismatch,
			want:    []string{"ErrEnsureProductClaimValueMismatch"},
		},
		{
			name:    "type mismatch",
			args:    []string{"groupware", "--allow-untrusted", "--claim", "seats=ten"},
			wantErr: ensure.ErrEnsureProductClaimValueTypeMismatch,
		},
		{
			name:    "missing set member",
			args:    []string{"groupware", "--allow-untrusted", "--member", "regions=ap-south"},
			wantErr: ensure.ErrEnsureProductClaimValueMismatch,
		},
		{
			name:    "product not licensed",
			args:    []string{"expired", "--allow-untrusted"},
			wantErr: ensure.ErrEnsureProductNotLicensed,
		},
		{
			name:    "unknown product",
			args:    []string{"calendar", "--allow-untrusted"},
			wantErr: ensure.ErrEnsureProductNotFound,
		},
		{
			name:    "unknown operator",
			args:    []string{"groupware", "--op", "seats:between:5"},
			wantErr: ensure.ErrEnsureUnknownOperator,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(append([]string{"check", "--claims", path}, tt.args...)...)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestCheckCmdJSON(t *testing.T) {
	quietEnv(t)
	path := writeClaims(t, testClaims)

	out, err := execute("check", "--claims", path, "--allow-untrusted", "--json", "groupware")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, float64(1), doc["generation"])
	assert.Equal(t, false, doc["trusted"])
}

func TestCheckCmdRequiresProduct(t *testing.T) {
	_, err := execute("check")
	require.Error(t, err)
}

func TestParseChecks(t *testing.T) {
	tests := []struct {
		name     string
		claims   []string
		ops      []string
		members  []string
		wantErr  bool
		wantType ensure.ValueType
	}{
		{name: "string", claims: []string{"edition=pro"}, wantType: ensure.TypeString},
		{name: "quoted number is a string", claims: []string{`edition="10"`}, wantType: ensure.TypeString},
		{name: "integer", claims: []string{"seats=10"}, wantType: ensure.TypeInt64},
		{name: "float", claims: []string{"ratio=0.5"}, wantType: ensure.TypeFloat64},
		{name: "bool", claims: []string{"trial=true"}, wantType: ensure.TypeBool},
		{name: "empty value", claims: []string{"edition="}, wantType: ensure.TypeString},
		{name: "missing equals", claims: []string{"edition"}, wantErr: true},
		{name: "empty key", claims: []string{"=pro"}, wantErr: true},
		{name: "set value", claims: []string{"regions=[a, b]"}, wantErr: true},
		{name: "compare integer", ops: []string{"seats:ge:5"}, wantType: ensure.TypeInt64},
		{name: "compare float", ops: []string{"ratio:lt:0.9"}, wantType: ensure.TypeFloat64},
		{name: "compare string", ops: []string{"edition:gt:pro"}, wantErr: true},
		{name: "compare missing part", ops: []string{"seats:ge"}, wantErr: true},
		{name: "member", members: []string{"regions=eu-west"}, wantType: ensure.TypeString},
		{name: "member missing equals", members: []string{"regions"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checks, err := parseChecks(tt.claims, tt.ops, tt.members)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, checks, 1)
			assert.Equal(t, tt.wantType, checks[0].value.Type())
		})
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchClaimsPrintsEveryGeneration(t *testing.T) {
	path := writeClaims(t, testClaims)
	nop := zerolog.Nop()
	e, err := ensure.New(ensure.Config{
		Source: source.NewFile(path, source.FileOptions{TrustUnsigned: true}),
		Logger: &nop,
	})
	require.NoError(t, err)
	require.NoError(t, e.Initialize(context.Background(), nil))
	defer e.Uninitialize()
	require.NoError(t, e.WaitUntilReadyTimeout(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() { done <- watchClaims(ctx, e, out, false) }()

	updated := strings.Replace(testClaims, "seats: 10", "seats: 25", 1)
	require.Eventually(t, func() bool {
		// Rewrite until the watcher has been registered and picked one up.
		if !strings.Contains(out.String(), "seats: 25") {
			_ = os.WriteFile(path, []byte(updated), 0o600)
			return false
		}
		return true
	}, 10*time.Second, 200*time.Millisecond)
	assert.Contains(t, out.String(), "trusted: true")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watchClaims did not return after cancel")
	}
}

func captureOutput(f func()) string {
	oldStdout := os.Stdout
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stdout = w
	os.Stderr = w

	f()

	w.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}
