package dccon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gurumnyang/dccon-exporter/internal/infra"
)

const (
	defaultBaseURL      = "https://dccon.dcinside.com"
	defaultImageBaseURL = "https://dcimg5.dcinside.com"
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	// sessionCookieName is the cookie the origin issues on the home page;
	// its value doubles as the CSRF token expected by the detail endpoint.
	sessionCookieName = "ci_c"
)

// Options controls how the origin client is configured. Zero values fall
// back to the production endpoints.
type Options struct {
	BaseURL      string
	ImageBaseURL string
	HTTPClient   *http.Client
	UserAgent    string
	Logger       *infra.Logger
}

// Client talks to the dccon origin site: the home-page handshake, the package
// detail endpoint and the image endpoint. It holds no per-package state; a
// session obtained from the handshake is threaded through the calls.
type Client struct {
	baseURL      string
	imageBaseURL string
	userAgent    string
	httpClient   *http.Client
	logger       *infra.Logger
}

// NewClient constructs an origin client with sane defaults. A nil HTTP client
// is replaced with one carrying a request timeout.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	imageBaseURL := strings.TrimRight(opts.ImageBaseURL, "/")
	if imageBaseURL == "" {
		imageBaseURL = defaultImageBaseURL
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		baseURL:      baseURL,
		imageBaseURL: imageBaseURL,
		userAgent:    userAgent,
		httpClient:   httpClient,
		logger:       logger,
	}
}

// session carries the cookies of one handshake plus the CSRF-style token
// derived from them.
type session struct {
	cookies []*http.Cookie
	token   string
}

// handshake performs the home-page GET and harvests the session cookie the
// rest of the protocol depends on.
func (c *Client) handshake(ctx context.Context) (*session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return nil, phaseErrorf(PhaseSession, "build handshake request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, phaseErrorf(PhaseSession, "handshake request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, phaseErrorf(PhaseSession, "handshake returned status %d", resp.StatusCode)
	}

	s := &session{cookies: resp.Cookies()}
	for _, cookie := range s.cookies {
		if cookie.Name == sessionCookieName {
			s.token = cookie.Value
			break
		}
	}
	if s.token == "" {
		return nil, phaseErrorf(PhaseSession, "handshake response is missing the %s cookie", sessionCookieName)
	}
	c.logger.Debug().
		Int("cookies", len(s.cookies)).
		Msg("dccon: session handshake complete")
	return s, nil
}

type detailResponse struct {
	Info   packageInfoWire  `json:"info"`
	Detail []detailItemWire `json:"detail"`
}

type packageInfoWire struct {
	PackageIdx  flexString `json:"package_idx"`
	Title       flexString `json:"title"`
	Description flexString `json:"description"`
	Category    flexString `json:"category"`
	MainImgPath flexString `json:"main_img_path"`
}

type detailItemWire struct {
	Idx        flexString `json:"idx"`
	Title      flexString `json:"title"`
	Path       flexString `json:"path"`
	Ext        flexString `json:"ext"`
	Sort       flexString `json:"sort"`
	PackageIdx flexString `json:"package_idx"`
}

// packageDetail posts the package id and CSRF token to the detail endpoint
// and decodes the item list plus metadata.
func (c *Client) packageDetail(ctx context.Context, s *session, packageID string) (*detailResponse, error) {
	form := url.Values{}
	form.Set("ci_t", s.token)
	form.Set("package_idx", packageID)
	form.Set("code", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/index/package_detail", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, phaseErrorf(PhaseDetail, "build detail request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", c.baseURL+"/")
	for _, cookie := range s.cookies {
		req.AddCookie(cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, phaseErrorf(PhaseDetail, "detail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, phaseErrorf(PhaseDetail, "detail endpoint returned status %d", resp.StatusCode)
	}

	var detail detailResponse
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, phaseErrorf(PhaseDetail, "decode detail response: %w", err)
	}
	if len(detail.Detail) == 0 {
		return nil, phaseErrorf(PhaseDetail, "package %s has no items", packageID)
	}
	c.logger.Debug().
		Str("package_id", packageID).
		Int("items", len(detail.Detail)).
		Msg("dccon: package detail fetched")
	return &detail, nil
}

// fetchImage downloads one emoticon image through the image endpoint using
// the handshake cookies. Returns the raw bytes and the reported MIME type.
func (c *Client) fetchImage(ctx context.Context, s *session, path string) ([]byte, string, error) {
	imageURL := c.imageBaseURL + "/dccon.php?no=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", phaseErrorf(PhaseImage, "build image request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.baseURL+"/")
	for _, cookie := range s.cookies {
		req.AddCookie(cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", phaseErrorf(PhaseImage, "image request for %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", phaseErrorf(PhaseImage, "image endpoint returned status %d for %s", resp.StatusCode, path)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", phaseErrorf(PhaseImage, "read image body for %s: %w", path, err)
	}
	mime := resp.Header.Get("Content-Type")
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return data, mime, nil
}

// flexString tolerates the origin's habit of switching between JSON strings
// and bare numbers for the same field.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode string field: %w", err)
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("decode numeric field: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string {
	return string(f)
}
