//go:build integration
// +build integration

package chrome_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/odvcencio/webprobe/pkg/browser"
	"github.com/odvcencio/webprobe/pkg/browser/adapters/chrome"
)

const page = `<!doctype html>
<html><body>
<button id="go">Go</button>
<div id="palette"><li>Hand Rigging</li></div>
<script>
console.error("boot failed");
console.warn("deprecated");
document.getElementById("go").addEventListener("click", () => fetch("/api/items"));
</script>
</body></html>`

// TestChromeSessionLifecycle drives a real Chrome against a local page.
func TestChromeSessionLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/items" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	metrics := browser.NewMetrics()
	runtime, err := chrome.NewRuntime(chrome.Config{ExecPath: os.Getenv("CHROME_PATH")}, metrics)
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}
	manager := browser.NewManager(runtime)
	defer manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sess, err := manager.CreateSession(ctx, browser.DefaultSessionConfig())
	if err != nil {
		t.Skipf("chrome not available: %v", err)
	}

	if err := sess.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("navigate failed: %v", err)
	}

	t.Run("evaluate", func(t *testing.T) {
		raw, err := sess.Evaluate(ctx, `document.querySelectorAll("button").length`)
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if string(raw) != "1" {
			t.Errorf("expected 1 button, got %s", raw)
		}
	})

	t.Run("count_contains", func(t *testing.T) {
		n, err := sess.Count(ctx, `li:contains("Hand Rigging")`)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 match, got %d", n)
		}
	})

	t.Run("click_fetches", func(t *testing.T) {
		if err := sess.Click(ctx, "#go"); err != nil {
			t.Fatalf("click failed: %v", err)
		}
	})

	t.Run("events", func(t *testing.T) {
		var sawError, sawResponse bool
		deadline := time.After(5 * time.Second)
		for !(sawError && sawResponse) {
			select {
			case ev := <-sess.Events():
				if ev.Kind == browser.EventConsole && ev.Severity == "error" {
					sawError = true
				}
				if ev.Kind == browser.EventResponse && ev.Status != nil && ev.URL == srv.URL+"/api/items" {
					sawResponse = true
				}
			case <-deadline:
				t.Fatalf("missing events: console error=%v api response=%v", sawError, sawResponse)
			}
		}
	})

	if snap := metrics.Snapshot(); snap.NavigateCount != 1 {
		t.Errorf("expected 1 navigation, got %d", snap.NavigateCount)
	}
}
