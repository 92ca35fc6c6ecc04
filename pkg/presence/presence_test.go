package presence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newProbeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/@alice/live", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(`<script>{"roomId":"7301","stream_url":{"flv":"https:\/\/pull.example.com\u002Fstage/stream.flv?expire=1\u0026sign=x"}}</script>`))
	})
	mux.HandleFunc("/@bob/live", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/@bob", http.StatusFound)
	})
	mux.HandleFunc("/@bob", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("profile"))
	})
	mux.HandleFunc("/@carol/live", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>live but nothing parseable</html>`))
	})
	mux.HandleFunc("/@dave/live", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"roomId":"42"}`))
	})
	mux.HandleFunc("/@broken/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProber(t *testing.T) {
	srv := newProbeServer(t)
	prober := NewHTTPProber(srv.URL, "test-agent", 2*time.Second)
	ctx := context.Background()

	live, err := prober.Probe(ctx, "@alice")
	if err != nil {
		t.Fatalf("alice: %v", err)
	}
	if !live.Live || live.RoomID != "7301" {
		t.Fatalf("alice = %+v", live)
	}
	if want := "https://pull.example.com/stage/stream.flv?expire=1&sign=x"; live.SessionToken != want {
		t.Fatalf("token = %q, want %q", live.SessionToken, want)
	}

	offline, err := prober.Probe(ctx, "bob")
	if err != nil {
		t.Fatalf("bob: %v", err)
	}
	if offline.Live {
		t.Fatal("redirected account must be offline")
	}

	noToken, err := prober.Probe(ctx, "carol")
	if err != nil {
		t.Fatalf("carol: %v", err)
	}
	if !noToken.Live || noToken.SessionToken != "" {
		t.Fatalf("carol = %+v", noToken)
	}

	roomOnly, err := prober.Probe(ctx, "dave")
	if err != nil {
		t.Fatalf("dave: %v", err)
	}
	if roomOnly.SessionToken != "42" {
		t.Fatalf("dave token = %q, want room id", roomOnly.SessionToken)
	}

	if _, err := prober.Probe(ctx, "broken"); !errors.Is(err, ErrProbe) {
		t.Fatalf("broken err = %v, want ErrProbe", err)
	}
	if _, err := prober.Probe(ctx, " "); !errors.Is(err, ErrProbe) {
		t.Fatalf("empty handle err = %v, want ErrProbe", err)
	}
}
