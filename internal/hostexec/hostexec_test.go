package hostexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"runtime"
	"strings"
	"testing"
)

func TestRunCapturesFailureOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	r := New()
	if err := r.Run(context.Background(), "true"); err != nil {
		t.Fatalf("Run true: %v", err)
	}
	err := r.Run(context.Background(), "sh -c exit_7_please")
	if err == nil {
		t.Fatalf("expected error from failing command")
	}
	if err := r.Run(context.Background(), "   "); err != ErrEmptyCommand {
		t.Fatalf("err = %v, want ErrEmptyCommand", err)
	}
}

func TestOpenURIUsesPlatformOpener(t *testing.T) {
	var gotName string
	var gotArgs []string
	r := New()
	r.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotName, gotArgs = name, args
		return exec.CommandContext(ctx, "true")
	}
	if runtime.GOOS == "windows" {
		t.Skip("fake command uses true")
	}
	if err := r.OpenURI(context.Background(), "steam://run/123"); err != nil {
		t.Fatalf("OpenURI: %v", err)
	}
	wantName, _ := openerFor(runtime.GOOS)
	if gotName != wantName || gotArgs[len(gotArgs)-1] != "steam://run/123" {
		t.Fatalf("opener = %s %v", gotName, gotArgs)
	}
}

func TestGet(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if strings.HasSuffix(r.URL.Path, "/bad") {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	r := New()
	if err := r.Get(context.Background(), srv.URL+"/ok"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := r.Get(context.Background(), srv.URL+"/bad"); err == nil {
		t.Fatalf("expected error on 502")
	}
	if hits != 2 {
		t.Fatalf("hits = %d, want 2", hits)
	}
}
