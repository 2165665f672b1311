package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEndToEndCopyPaste(t *testing.T) {
	ts := newTestServer(t, roomy, 1024, Config{})
	server := httptest.NewServer(ts.srv.Handler())
	defer server.Close()

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post(server.URL+"/", "application/octet-stream", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	line, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read post: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	fields := strings.Fields(string(line))
	if len(fields) != 2 || fields[0] != "xpbpaste" {
		t.Fatalf("unexpected write response %q", line)
	}

	rawResp, err := client.Get(server.URL + "/" + fields[1])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rawBody, err := io.ReadAll(rawResp.Body)
	rawResp.Body.Close()
	if err != nil {
		t.Fatalf("read get: %v", err)
	}
	if rawResp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", rawResp.StatusCode)
	}
	if string(rawBody) != "hello world" {
		t.Fatalf("body mismatch %q", rawBody)
	}

	profile, err := client.Get(server.URL + "/bash_profile")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	profileBody, _ := io.ReadAll(profile.Body)
	profile.Body.Close()
	if !strings.Contains(string(profileBody), server.URL) {
		t.Fatalf("bash profile should point at %s:\n%s", server.URL, profileBody)
	}
}
