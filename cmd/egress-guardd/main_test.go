package main

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/egress-guard/internal/guard/config"
	"github.com/haukened/egress-guard/internal/guard/domain"
	"github.com/haukened/egress-guard/internal/guard/gateways/firewall"
	"github.com/haukened/egress-guard/internal/guard/repos/blockregistry"
)

// setupEnv points every stateful path into a temp dir and selects the memory firewall.
func setupEnv(t *testing.T, captureCommand string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("GUARD_LOG_LEVEL", "debug")
	t.Setenv("GUARD_AUDIT_DB", filepath.Join(dir, "block_log.db"))
	t.Setenv("GUARD_STATE_DB", filepath.Join(dir, "blocks.db"))
	t.Setenv("GUARD_TRUST_HOSTS_FILE", "")
	t.Setenv("GUARD_FIREWALL_BACKEND", "memory")
	t.Setenv("GUARD_CAPTURE_COMMAND", captureCommand)
	return dir
}

func writeFixture(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "capture.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func build(t *testing.T) *Application {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	app, err := buildApplication(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func TestApplication_ProcessesCaptureStream(t *testing.T) {
	dir := setupEnv(t, "")
	fixture := writeFixture(t, dir,
		"12:00:00.000001 IP 10.0.0.5.54321 > 93.184.216.34.443: Flags [S]",
		"12:00:00.000002 IP laptop.lan.54321 > www.google.com.https: Flags [P.]",
		"12:00:00.000003 IP 10.0.0.5.40000 > 192.168.1.50.445: Flags [S]",
		"ARP, Request who-has 10.0.0.1 tell 10.0.0.5, length 28",
		"12:00:00.000004 IP6 2001:db8::5.51000 > 2606:4700::1111.443: Flags [S]",
	)
	t.Setenv("GUARD_CAPTURE_COMMAND", "cat "+fixture)

	app := build(t)
	require.NoError(t, app.Run(context.Background()))

	rows, err := app.audit.Query(context.Background(), domain.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "93.184.216.34", rows[0].Destination)
	assert.Equal(t, "10.0.0.5", rows[0].Source)
	assert.Equal(t, "2606:4700::1111", rows[1].Destination)

	mem, ok := app.baseFirewall.(*firewall.Memory)
	require.True(t, ok)
	assert.Len(t, mem.Rules(), 2)

	recs, err := app.registry.List()
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestApplication_RestoresRecordedBlocks(t *testing.T) {
	dir := setupEnv(t, "")
	t.Setenv("GUARD_CAPTURE_COMMAND", "cat "+writeFixture(t, dir, "nothing to see"))

	reg, err := blockregistry.Open(filepath.Join(dir, "blocks.db"))
	require.NoError(t, err)
	require.NoError(t, reg.Record(domain.BlockRecord{
		Addr:      netip.MustParseAddr("198.51.100.7"),
		Hostname:  "tracker.example.net",
		BlockedAt: time.Unix(1723551000, 0),
	}))
	require.NoError(t, reg.Close())

	app := build(t)
	require.NoError(t, app.Run(context.Background()))

	mem := app.baseFirewall.(*firewall.Memory)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("198.51.100.7")}, mem.Rules())
}

func TestApplication_RestoreDisabled(t *testing.T) {
	dir := setupEnv(t, "")
	t.Setenv("GUARD_CAPTURE_COMMAND", "cat "+writeFixture(t, dir, "nothing to see"))
	t.Setenv("GUARD_RESTORE_BLOCKS", "false")

	reg, err := blockregistry.Open(filepath.Join(dir, "blocks.db"))
	require.NoError(t, err)
	require.NoError(t, reg.Record(domain.BlockRecord{Addr: netip.MustParseAddr("198.51.100.7")}))
	require.NoError(t, reg.Close())

	app := build(t)
	require.NoError(t, app.Run(context.Background()))
	assert.Empty(t, app.baseFirewall.(*firewall.Memory).Rules())
}

func TestApplication_ShutdownOnCancel(t *testing.T) {
	setupEnv(t, "sleep 30")
	app := build(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop after cancellation")
	}
}

func TestApplication_CaptureStartFailure(t *testing.T) {
	setupEnv(t, "/nonexistent/egress-capture -i {interface}")
	app := build(t)

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start capture")
}

func TestApplication_CaptureExitStatus(t *testing.T) {
	setupEnv(t, "false")
	app := build(t)

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture exited")
}

func TestBuildApplication_ConfigurationVariations(t *testing.T) {
	tests := []struct {
		name          string
		setupEnv      func(t *testing.T, dir string)
		wantErr       bool
		errorContains string
	}{
		{
			name:     "defaults with memory backend",
			setupEnv: func(t *testing.T, dir string) {},
		},
		{
			name: "registry disabled",
			setupEnv: func(t *testing.T, dir string) {
				t.Setenv("GUARD_STATE_DB", "")
			},
		},
		{
			name: "metrics enabled",
			setupEnv: func(t *testing.T, dir string) {
				t.Setenv("GUARD_METRICS_ADDR", "127.0.0.1:9109")
			},
		},
		{
			name: "trust directory",
			setupEnv: func(t *testing.T, dir string) {
				trustDir := filepath.Join(dir, "trust.d")
				require.NoError(t, os.MkdirAll(trustDir, 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(trustDir, "corp.list"), []byte("corp.example\n"), 0o644))
				t.Setenv("GUARD_TRUST_DIR", trustDir)
			},
		},
		{
			name: "missing trust directory",
			setupEnv: func(t *testing.T, dir string) {
				t.Setenv("GUARD_TRUST_DIR", filepath.Join(dir, "absent"))
			},
			wantErr:       true,
			errorContains: "failed to build trust list",
		},
		{
			name: "unbalanced capture quoting",
			setupEnv: func(t *testing.T, dir string) {
				t.Setenv("GUARD_CAPTURE_COMMAND", `tcpdump -i "{interface} -l`)
			},
			wantErr:       true,
			errorContains: "invalid capture command",
		},
		{
			name: "unwritable audit path",
			setupEnv: func(t *testing.T, dir string) {
				blocker := filepath.Join(dir, "file")
				require.NoError(t, os.WriteFile(blocker, nil, 0o644))
				t.Setenv("GUARD_AUDIT_DB", filepath.Join(blocker, "block_log.db"))
			},
			wantErr:       true,
			errorContains: "failed to open audit log",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupEnv(t, "tcpdump -i {interface} -l port not 22")
			tt.setupEnv(t, dir)

			cfg, err := config.Load()
			require.NoError(t, err)

			app, err := buildApplication(cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				assert.Nil(t, app)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, app)
			assert.NoError(t, app.Close())
		})
	}
}
