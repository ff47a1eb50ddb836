// Package bluesky posts notification threads to Bluesky over the
// AT-protocol XRPC endpoints (createSession + createRecord).
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/TracingInsights-Archive/f1live/internal/message"
	"github.com/TracingInsights-Archive/f1live/internal/notify"
	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

const (
	defaultHost = "https://bsky.social"

	// MaxPostChars is the platform's grapheme budget per post. Used by
	// callers to configure message splitting.
	MaxPostChars = 300
)

// Config configures the sink.
type Config struct {
	Host       string // default https://bsky.social
	Identifier string // handle or email
	Password   string // app password
	Timeout    time.Duration
}

type Sink struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	mu        sync.Mutex
	accessJwt string
	did       string
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Identifier) == "" || strings.TrimSpace(cfg.Password) == "" {
		return nil, errors.New("bluesky: identifier and password are required")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = defaultHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{cfg: cfg, http: &http.Client{Timeout: timeout}, log: log}, nil
}

func (s *Sink) Name() string { return "bluesky" }

// postRef identifies a created record, used to build reply chains.
type postRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type replyRefs struct {
	Root   postRef `json:"root"`
	Parent postRef `json:"parent"`
}

// Post publishes parts as a thread: the first part is the root, each
// following part replies to the previous one.
func (s *Sink) Post(ctx context.Context, parts []message.Part) error {
	if len(parts) == 0 {
		return nil
	}
	if err := s.ensureSession(ctx); err != nil {
		return err
	}

	var root, parent postRef
	for i, part := range parts {
		var reply *replyRefs
		if i > 0 {
			reply = &replyRefs{Root: root, Parent: parent}
		}
		ref, err := s.createPost(ctx, part, reply)
		if err != nil {
			if i == 0 {
				return err
			}
			// Partial thread: the root is already public, so surface the
			// failure but don't repost from scratch.
			return fmt.Errorf("thread truncated after %d part(s): %w", i, err)
		}
		if i == 0 {
			root = ref
		}
		parent = ref
	}
	return nil
}

func (s *Sink) ensureSession(ctx context.Context) error {
	s.mu.Lock()
	have := s.accessJwt != ""
	s.mu.Unlock()
	if have {
		return nil
	}
	return s.login(ctx)
}

func (s *Sink) login(ctx context.Context) error {
	body := map[string]string{
		"identifier": s.cfg.Identifier,
		"password":   s.cfg.Password,
	}
	var out struct {
		AccessJwt string `json:"accessJwt"`
		DID       string `json:"did"`
	}
	if err := s.xrpc(ctx, "com.atproto.server.createSession", "", body, &out); err != nil {
		return err
	}
	s.mu.Lock()
	s.accessJwt = out.AccessJwt
	s.did = out.DID
	s.mu.Unlock()
	s.log.Info("bluesky session established", logx.String("did", out.DID))
	return nil
}

// record is the app.bsky.feed.post lexicon shape.
type record struct {
	Type      string     `json:"$type"`
	Text      string     `json:"text"`
	CreatedAt string     `json:"createdAt"`
	Facets    []facet    `json:"facets,omitempty"`
	Reply     *replyRefs `json:"reply,omitempty"`
	Langs     []string   `json:"langs,omitempty"`
}

type facet struct {
	Index    facetIndex     `json:"index"`
	Features []facetFeature `json:"features"`
}

type facetIndex struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type facetFeature struct {
	Type string `json:"$type"`
	Tag  string `json:"tag"`
}

func (s *Sink) createPost(ctx context.Context, part message.Part, reply *replyRefs) (postRef, error) {
	s.mu.Lock()
	jwt, did := s.accessJwt, s.did
	s.mu.Unlock()

	rec := record{
		Type:      "app.bsky.feed.post",
		Text:      part.Text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Reply:     reply,
		Langs:     []string{"en"},
	}
	for _, f := range part.Facets {
		rec.Facets = append(rec.Facets, facet{
			Index: facetIndex{ByteStart: f.ByteStart, ByteEnd: f.ByteEnd},
			Features: []facetFeature{{
				Type: "app.bsky.richtext.facet#tag",
				Tag:  f.Tag,
			}},
		})
	}

	body := map[string]any{
		"repo":       did,
		"collection": "app.bsky.feed.post",
		"record":     rec,
	}
	var ref postRef
	if err := s.xrpc(ctx, "com.atproto.repo.createRecord", jwt, body, &ref); err != nil {
		// Expired token: drop the session so the next attempt re-logins.
		if errors.Is(err, notify.ErrAuthFailed) {
			s.mu.Lock()
			s.accessJwt = ""
			s.mu.Unlock()
		}
		return postRef{}, err
	}
	return ref, nil
}

func (s *Sink) xrpc(ctx context.Context, method, jwt string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("bluesky: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.Host+"/xrpc/"+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("bluesky: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if jwt != "" {
		req.Header.Set("Authorization", "Bearer "+jwt)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return errors.Join(notify.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classifyStatus(resp.StatusCode, method, string(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(notify.ErrUnavailable, fmt.Errorf("decode %s: %w", method, err))
	}
	return nil
}

func classifyStatus(code int, method, body string) error {
	detail := fmt.Errorf("%s: http %d: %s", method, code, strings.TrimSpace(body))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.Join(notify.ErrAuthFailed, detail)
	case code == http.StatusTooManyRequests:
		return errors.Join(notify.ErrRateLimited, detail)
	default:
		return errors.Join(notify.ErrUnavailable, detail)
	}
}
