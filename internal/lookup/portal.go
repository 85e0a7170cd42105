package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PortalClient opens sessions against the agent portal's web UI. The portal
// is a rendered HTML application: the sign-in form, the search form and the
// results table are its de facto contract, anchored below by structural
// regexes that must be revalidated when the remote UI changes.
type PortalClient struct {
	baseURL     string
	timeout     time.Duration
	snapshotDir string
	limiter     *rate.Limiter
}

// PortalOptions configures a PortalClient.
type PortalOptions struct {
	BaseURL     string        // portal root, e.g. https://app.thevirtualagent.co.za
	Timeout     time.Duration // bounded wait per portal round trip
	SnapshotDir string        // where diagnostic snapshots land; empty disables them
	LookupDelay time.Duration // politeness delay between lookups
}

// NewPortalClient creates a portal client with bounded waits.
func NewPortalClient(opts PortalOptions) *PortalClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.LookupDelay <= 0 {
		opts.LookupDelay = 500 * time.Millisecond
	}
	return &PortalClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		timeout:     opts.Timeout,
		snapshotDir: opts.SnapshotDir,
		limiter:     rate.NewLimiter(rate.Every(opts.LookupDelay), 1),
	}
}

// Open signs in and returns a reusable session. Bad credentials surface as
// ErrAuthentication, an unresponsive portal as ErrTimeout; both abort the
// batch since nothing can proceed unauthenticated.
func (p *PortalClient) Open(ctx context.Context, username, password string) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "portal: cookie jar")
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: p.timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	signInURL := p.baseURL + "/user/sign-in"
	body, err := p.fetch(ctx, client, signInURL)
	if err != nil {
		return nil, err
	}

	form := parseForm(body)
	form.set("username", username)
	form.set("password", password)

	action := form.action
	if action == "" {
		action = signInURL
	}
	respBody, err := p.submit(ctx, client, resolveURL(signInURL, action), form.values())
	if err != nil {
		return nil, err
	}

	// A login failure re-renders the sign-in form or an error banner
	// instead of the authenticated shell.
	if authFailed(respBody) {
		p.snapshot("sign-in", respBody)
		return nil, eris.Wrapf(ErrAuthentication, "user %s", username)
	}

	zap.L().Info("portal session opened", zap.String("user", username))
	return &portalSession{client: p, http: client}, nil
}

type portalSession struct {
	client *PortalClient
	http   *http.Client
	closed bool
}

// Lookup submits one identifier search and scrapes up to three phone-shaped
// tokens from the results table. A timeout here fails only this identifier;
// the session stays usable for the next one.
func (s *portalSession) Lookup(ctx context.Context, identifier string) ([]string, error) {
	if s.closed {
		return nil, eris.New("portal: session closed")
	}

	// Politeness: the portal's session model dislikes rapid-fire searches.
	if err := s.client.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "portal: rate limit wait")
	}

	searchURL := s.client.baseURL + "/search"
	body, err := s.client.fetch(ctx, s.http, searchURL)
	if err != nil {
		return nil, err
	}

	form := parseForm(body)
	form.set("id", identifier)

	action := form.action
	if action == "" {
		action = searchURL
	}
	results, err := s.client.submit(ctx, s.http, resolveURL(searchURL, action), form.values())
	if err != nil {
		return nil, err
	}

	phones := scrapePhones(results)
	zap.L().Debug("portal lookup",
		zap.String("identifier", identifier),
		zap.Int("phones", len(phones)),
	)
	return phones, nil
}

func (s *portalSession) Close() error {
	s.closed = true
	s.http.CloseIdleConnections()
	return nil
}

// --- HTTP plumbing ---

func (p *PortalClient) fetch(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "portal: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; AegisAgent/1.0)")

	resp, err := client.Do(req)
	if err != nil {
		return "", p.classify(err, rawURL)
	}
	defer func() { _ = resp.Body.Close() }()

	return p.readBody(resp, rawURL)
}

func (p *PortalClient) submit(ctx context.Context, client *http.Client, rawURL string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "portal: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; AegisAgent/1.0)")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", p.classify(err, rawURL)
	}
	defer func() { _ = resp.Body.Close() }()

	return p.readBody(resp, rawURL)
}

func (p *PortalClient) readBody(resp *http.Response, rawURL string) (string, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", p.classify(err, rawURL)
	}
	if resp.StatusCode >= 400 {
		p.snapshot("status", string(body))
		return "", eris.Errorf("portal: %s returned status %d", rawURL, resp.StatusCode)
	}
	return string(body), nil
}

// classify folds transport errors into the session error taxonomy.
func (p *PortalClient) classify(err error, rawURL string) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return eris.Wrapf(ErrTimeout, "%s", rawURL)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return eris.Wrapf(ErrTimeout, "%s", rawURL)
	}
	return eris.Wrapf(err, "portal: %s", rawURL)
}

// snapshot writes the last response body for offline debugging of UI-shape
// drift on the remote portal.
func (p *PortalClient) snapshot(stage, body string) {
	if p.snapshotDir == "" {
		return
	}
	if err := os.MkdirAll(p.snapshotDir, 0o755); err != nil {
		zap.L().Warn("portal: snapshot dir", zap.Error(err))
		return
	}
	name := fmt.Sprintf("portal-%s-%s.html", stage, time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(p.snapshotDir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		zap.L().Warn("portal: write snapshot", zap.Error(err))
		return
	}
	zap.L().Info("portal: diagnostic snapshot written", zap.String("path", path))
}

// --- HTML scraping ---

var (
	formRe      = regexp.MustCompile(`(?is)<form[^>]*>.*?</form>`)
	actionRe    = regexp.MustCompile(`(?i)<form[^>]*\baction\s*=\s*["']([^"']*)["']`)
	inputRe     = regexp.MustCompile(`(?i)<input[^>]*>`)
	attrNameRe  = regexp.MustCompile(`(?i)\bname\s*=\s*["']([^"']*)["']`)
	attrValueRe = regexp.MustCompile(`(?i)\bvalue\s*=\s*["']([^"']*)["']`)
	phoneCellRe = regexp.MustCompile(`(?is)<td[^>]*class\s*=\s*["'][^"']*phone[^"']*["'][^>]*>(.*?)</td>`)
	tagRe       = regexp.MustCompile(`<[^>]+>`)
)

type htmlForm struct {
	action string
	fields []string          // preserves field order
	byName map[string]string
}

func (f *htmlForm) set(name, value string) {
	if _, ok := f.byName[name]; !ok {
		f.fields = append(f.fields, name)
	}
	f.byName[name] = value
}

func (f *htmlForm) values() url.Values {
	v := url.Values{}
	for _, name := range f.fields {
		v.Set(name, f.byName[name])
	}
	return v
}

// parseForm pulls the first form out of a rendered page, keeping every named
// input (hidden CSRF tokens included) so the submit round-trips what the
// portal expects.
func parseForm(body string) *htmlForm {
	form := &htmlForm{byName: make(map[string]string)}

	scope := body
	if m := formRe.FindString(body); m != "" {
		scope = m
	}
	if m := actionRe.FindStringSubmatch(scope); len(m) > 1 {
		form.action = m[1]
	}
	for _, input := range inputRe.FindAllString(scope, -1) {
		nameM := attrNameRe.FindStringSubmatch(input)
		if len(nameM) < 2 || nameM[1] == "" {
			continue
		}
		value := ""
		if valueM := attrValueRe.FindStringSubmatch(input); len(valueM) > 1 {
			value = valueM[1]
		}
		form.set(nameM[1], value)
	}
	return form
}

// scrapePhones extracts up to three normalized phone numbers from the
// results table. Tokens that fail the shape check are dropped, not returned.
func scrapePhones(body string) []string {
	var phones []string
	for _, m := range phoneCellRe.FindAllStringSubmatch(body, -1) {
		raw := strings.TrimSpace(tagRe.ReplaceAllString(m[1], " "))
		if n, ok := NormalizePhone(raw); ok {
			phones = append(phones, n)
		}
		if len(phones) == 3 {
			break
		}
	}
	return phones
}

// authFailed detects a rejected login: an explicit error banner, or the
// sign-in form rendered again. A password input alone is not enough, since
// authenticated pages can carry one (change-password widgets and the like).
func authFailed(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range []string{
		"invalid username or password",
		"invalid credentials",
		"sign-in failed",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	form := parseForm(body)
	if _, hasPassword := form.byName["password"]; hasPassword &&
		strings.Contains(strings.ToLower(form.action), "sign-in") {
		return true
	}
	return false
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
