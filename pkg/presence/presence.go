// Package presence detects whether a tracked account is broadcasting.
package presence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var ErrProbe = errors.New("presence probe failed")

const maxPageBytes = 4 << 20

var (
	roomIDPattern  = regexp.MustCompile(`"roomId"\s*:\s*"(\d+)"`)
	pullURLPattern = regexp.MustCompile(`"(https?:(?:\\/|\\u002F|/){2}[^"\s]+?\.(?:flv|m3u8)[^"\s]*)"`)
)

// Presence is the outcome of one probe. SessionToken is what the capture
// side needs to attach to the broadcast: the pull URL when the page exposes
// one, else the room id. It may be empty while live.
type Presence struct {
	Live         bool
	RoomID       string
	SessionToken string
}

type Prober interface {
	Probe(ctx context.Context, handle string) (Presence, error)
}

// HTTPProber loads the account's public live page. A redirect away from the
// live page means the account is offline.
type HTTPProber struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

func NewHTTPProber(baseURL, userAgent string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, handle string) (Presence, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return Presence{}, fmt.Errorf("%w: empty handle", ErrProbe)
	}

	pageURL := fmt.Sprintf("%s/@%s/live", p.baseURL, url.PathEscape(handle))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Presence{}, errors.Join(ErrProbe, err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Presence{}, errors.Join(ErrProbe, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Presence{}, fmt.Errorf("%w: %s returned %d", ErrProbe, pageURL, resp.StatusCode)
	}
	if !strings.HasSuffix(strings.TrimRight(resp.Request.URL.Path, "/"), "/live") {
		return Presence{Live: false}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Presence{}, errors.Join(ErrProbe, err)
	}
	return parsePage(string(body)), nil
}

func parsePage(page string) Presence {
	out := Presence{Live: true}
	if m := roomIDPattern.FindStringSubmatch(page); m != nil {
		out.RoomID = m[1]
	}
	if m := pullURLPattern.FindStringSubmatch(page); m != nil {
		out.SessionToken = unescapeURL(m[1])
	}
	if out.SessionToken == "" {
		out.SessionToken = out.RoomID
	}
	return out
}

func unescapeURL(s string) string {
	return strings.NewReplacer(`\u002F`, "/", `\u0026`, "&", `\/`, "/").Replace(s)
}
