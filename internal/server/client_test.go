package server_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"signsync/internal/logging"
	"signsync/internal/server"
	"signsync/internal/services"
	"signsync/internal/store"
	"signsync/internal/testsupport"
)

func newClient(t *testing.T, fake *testsupport.FakeServer) *server.Client {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithServerURL(fake.URL))
	return server.New(cfg, logging.NewNop())
}

func TestFormRequestsCarryAppVersionAndToken(t *testing.T) {
	var gotVersion, gotToken, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotVersion = r.PostForm.Get("app_version")
		gotToken = r.PostForm.Get("login_token")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := server.NewWithDoer(srv.URL+"/", "1.2.3", srv.Client(), logging.NewNop())
	if err := client.DirectiveCompleted(context.Background(), "alice:tok", 7); err != nil {
		t.Fatalf("DirectiveCompleted: %v", err)
	}
	if gotVersion != "1.2.3" || gotToken != "alice:tok" {
		t.Fatalf("unexpected form fields: version=%q token=%q", gotVersion, gotToken)
	}
	if gotType != "application/x-www-form-urlencoded" {
		t.Fatalf("unexpected content type %q", gotType)
	}
}

func TestStatusClassification(t *testing.T) {
	fake := testsupport.NewFakeServer(t)
	client := newClient(t, fake)
	ctx := context.Background()

	fake.FailEndpoints["directives"] = http.StatusInternalServerError
	_, err := client.Directives(ctx, "alice:tok")
	if !errors.Is(err, services.ErrTransient) || server.StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("expected transient 500, got %v", err)
	}

	fake.FailEndpoints["directives"] = 0
	fake.AnyToken = false
	_, err = client.Directives(ctx, "alice:tok")
	if !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	ok, err := client.IsAuthenticated(ctx, "alice:tok")
	if err != nil || ok {
		t.Fatalf("expected unauthenticated probe, got %v %v", ok, err)
	}
}

func TestRegisterLoginRequiresAdminToken(t *testing.T) {
	fake := testsupport.NewFakeServer(t)
	client := newClient(t, fake)
	ctx := context.Background()

	if err := client.RegisterLogin(ctx, "admin:wrong", "bob:123"); !errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err := client.RegisterLogin(ctx, "admin:test-admin", "bob:123"); err != nil {
		t.Fatalf("RegisterLogin: %v", err)
	}
	if !fake.HasToken("bob:123") {
		t.Fatal("expected token registered")
	}
}

func TestDirectivesAndSave(t *testing.T) {
	fake := testsupport.NewFakeServer(t)
	client := newClient(t, fake)
	ctx := context.Background()

	fake.AddDirective("noop", "")
	fake.AddDirective("setTutorialMode", "true")
	directives, err := client.Directives(ctx, "alice:tok")
	if err != nil {
		t.Fatal(err)
	}
	if len(directives) != 2 || directives[1].Op != "setTutorialMode" || directives[1].Value != "true" {
		t.Fatalf("unexpected directives %+v", directives)
	}

	structured, _ := store.JSONPayload(map[string]int{"clipId": 4})
	batch := []store.Record{
		{Key: "log-1", Partition: "log", Payload: store.TextPayload("hello")},
		{Key: "clip-s1-4", Partition: "clip", Payload: structured},
	}
	if err := client.Save(ctx, "alice:tok", batch); err != nil {
		t.Fatal(err)
	}
	keys := fake.SavedKeys()
	if len(keys) != 2 || keys[0] != "log-1" || keys[1] != "clip-s1-4" {
		t.Fatalf("unexpected saved keys %v", keys)
	}
	if data, ok := fake.Saved[1]["data"].(map[string]any); !ok || data["clipId"] != float64(4) {
		t.Fatalf("structured payload not sent as JSON: %#v", fake.Saved[1])
	}
}

func TestDownloadResource(t *testing.T) {
	fake := testsupport.NewFakeServer(t)
	fake.Resources["img/cat.png"] = []byte("png-bytes")
	client := newClient(t, fake)

	var buf bytes.Buffer
	n, err := client.DownloadResource(context.Background(), "alice:tok", "img/cat.png", &buf)
	if err != nil || n != 9 || buf.String() != "png-bytes" {
		t.Fatalf("DownloadResource: %d %q %v", n, buf.String(), err)
	}
	if _, err := client.DownloadResource(context.Background(), "alice:tok", "missing", &buf); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMissingBaseURLIsConfigurationError(t *testing.T) {
	client := server.NewWithDoer("", "1", http.DefaultClient, nil)
	_, err := client.Prompts(context.Background(), "t")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "prompts") {
		t.Fatalf("expected endpoint in error, got %v", err)
	}
}
