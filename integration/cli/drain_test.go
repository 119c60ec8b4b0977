//go:build integration

package cli

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/dropsyncd/internal/testutil"
)

func TestCLI(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	bin := testutil.BuildBinary(t)

	t.Run("A_OnceDrainsTree", func(t *testing.T) {
		testOnceDrainsTree(ctx, t, bin)
	})
	t.Run("B_DryRunChangesNothing", func(t *testing.T) {
		testDryRun(ctx, t, bin)
	})
	t.Run("C_LegacyProperties", func(t *testing.T) {
		testLegacyProperties(ctx, t, bin)
	})
	t.Run("D_DaemonDrainsNewFiles", func(t *testing.T) {
		testDaemon(ctx, t, bin)
	})
	t.Run("E_SecondInstanceIsRejected", func(t *testing.T) {
		testLockContention(ctx, t, bin)
	})
	t.Run("F_InvalidConfig", func(t *testing.T) {
		testInvalidConfig(ctx, t, bin)
	})
}

func testOnceDrainsTree(ctx context.Context, t *testing.T, bin string) {
	h := NewHarness(t, bin)
	h.WriteSource("a.txt", "alpha")
	h.WriteSource("nested/deeper/b.txt", "bravo")
	cfg := h.WriteConfig("")

	out, code := h.Run(ctx, "once", "--config", cfg)
	if code != 0 {
		t.Fatalf("once exited %d:\n%s", code, out)
	}
	if !strings.Contains(out, "Moved 2 file(s)") {
		t.Errorf("expected summary in output:\n%s", out)
	}

	for rel, want := range map[string]string{"a.txt": "alpha", "nested/deeper/b.txt": "bravo"} {
		got, err := h.ReadDest(rel)
		if err != nil || got != want {
			t.Errorf("%s: got %q (%v), want %q", rel, got, err, want)
		}
	}

	entries, err := os.ReadDir(h.Source)
	if err != nil {
		t.Fatalf("source root must survive: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty source, found %d entries", len(entries))
	}

	// a second pass has nothing to do
	out, code = h.Run(ctx, "once", "--config", cfg, "--log-level", "debug")
	if code != 0 {
		t.Fatalf("second once exited %d:\n%s", code, out)
	}
	if !strings.Contains(out, "No files found to copy.") {
		t.Errorf("expected no-op status:\n%s", out)
	}
}

func testDryRun(ctx context.Context, t *testing.T, bin string) {
	h := NewHarness(t, bin)
	h.WriteSource("report.pdf", "pdf")
	cfg := h.WriteConfig("")

	out, code := h.Run(ctx, "once", "--dry-run", "--config", cfg)
	if code != 0 {
		t.Fatalf("dry run exited %d:\n%s", code, out)
	}
	if !strings.Contains(out, "Dry run: would move 1 file(s)") {
		t.Errorf("expected dry-run summary:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(h.Source, "report.pdf")); err != nil {
		t.Errorf("dry run must not touch the source: %v", err)
	}
	if _, err := os.Stat(h.Dest); !os.IsNotExist(err) {
		t.Errorf("dry run must not create the destination: %v", err)
	}
}

func testLegacyProperties(ctx context.Context, t *testing.T, bin string) {
	h := NewHarness(t, bin)
	h.WriteSource("legacy.txt", "old school")

	props := filepath.Join(h.Root, "config.properties")
	body := "sourceFolder=" + h.Source + "\n" +
		"destinationFolder=" + h.Dest + "\n" +
		"pollingInterval=1000\n" +
		"copyOption=REPLACE_EXISTING\n"
	if err := os.WriteFile(props, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("XDG_STATE_HOME", h.State)
	out, code := h.Run(ctx, "once", "--config", props)
	if code != 0 {
		t.Fatalf("once with properties exited %d:\n%s", code, out)
	}
	if got, err := h.ReadDest("legacy.txt"); err != nil || got != "old school" {
		t.Errorf("legacy.txt not moved: %q %v", got, err)
	}
}

func testDaemon(ctx context.Context, t *testing.T, bin string) {
	h := NewHarness(t, bin)
	addr := FreeAddr(t)
	tokenFile := filepath.Join(h.Root, "token")
	if err := os.WriteFile(tokenFile, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := h.WriteConfig(`watch: true
serve:
  enabled: true
  listen_addr: "` + addr + `"
  token_file: "` + tokenFile + `"
`)

	d := h.Start("run", "--config", cfg, "--log-format", "json")

	testutil.Eventually(t, 10*time.Second, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "status server did not come up")

	h.WriteSource("incoming/video.mp4", strings.Repeat("v", 3*1024*1024))
	testutil.Eventually(t, 15*time.Second, func() bool {
		got, err := h.ReadDest("incoming/video.mp4")
		return err == nil && len(got) == 3*1024*1024
	}, "file was not moved by the daemon")

	testutil.Eventually(t, 5*time.Second, func() bool {
		_, err := os.Stat(filepath.Join(h.Source, "incoming"))
		return os.IsNotExist(err)
	}, "emptied folder was not pruned")

	resp, err := http.Get("http://" + addr + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), `"source":"`+h.Source+`"`) {
		t.Errorf("unexpected status body: %s", body)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/trigger", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /trigger: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202 from trigger, got %d", resp.StatusCode)
	}

	if err := d.Stop(10 * time.Second); err != nil {
		t.Errorf("daemon did not shut down cleanly: %v\n%s", err, d.Log.String())
	}
}

func testLockContention(ctx context.Context, t *testing.T, bin string) {
	h := NewHarness(t, bin)
	cfg := h.WriteConfig("")

	d := h.Start("run", "--config", cfg)
	testutil.Eventually(t, 10*time.Second, func() bool {
		return strings.Contains(d.Log.String(), "scheduler started")
	}, "first daemon did not start")

	out, code := h.Run(ctx, "once", "--config", cfg)
	if code == 0 {
		t.Fatalf("second instance should fail while the first holds the lock:\n%s", out)
	}
	if !strings.Contains(out, "already being drained") {
		t.Errorf("expected lock error:\n%s", out)
	}
}

func testInvalidConfig(ctx context.Context, t *testing.T, bin string) {
	h := NewHarness(t, bin)
	cfg := filepath.Join(h.Root, "bad.yaml")
	body := "source: " + h.Source + "\ndestination: " + h.Dest + "\npoll_interval_ms: 1000\nconflict_policy: sometimes\n"
	if err := os.WriteFile(cfg, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	out, code := h.Run(ctx, "validate", "--config", cfg)
	if code == 0 {
		t.Fatalf("validate should reject unknown conflict policy:\n%s", out)
	}
	if !strings.Contains(out, "invalid conflict policy") {
		t.Errorf("expected policy error:\n%s", out)
	}
}
