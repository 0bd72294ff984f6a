// Package fusclient manages one authenticated conversation with the FUS
// server. A Client is not safe for concurrent use: every request may rotate
// the session nonce, so callers must serialise requests per Client.
package fusclient

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattchengg/fusgo/internal/auth"
	"github.com/mattchengg/fusgo/internal/config"
	"github.com/mattchengg/fusgo/internal/fuserr"
)

// Request is one of the FUS POST endpoints.
type Request string

const (
	GenerateNonce Request = "NF_DownloadGenerateNonce.do"
	BinaryInform  Request = "NF_DownloadBinaryInform.do"
	BinaryInit    Request = "NF_DownloadBinaryInitForMass.do"
)

const maxReauth = 2

// Doer is the HTTP transport. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Session is the mutable authentication state of a conversation. Signature is
// always derived from Nonce.
type Session struct {
	Nonce         string
	EncNonce      string
	Signature     string
	SessionCookie string
}

type Client struct {
	Session *Session

	BaseURL      string
	DownloadBase string
	UserAgent    string

	// RequestTimeout bounds each POST, including reading its body. Zero
	// leaves requests bounded only by the caller's context.
	RequestTimeout time.Duration

	HTTP Doer
	Log  *slog.Logger
}

// New returns a Client for cfg. A nil sess starts an empty session and a nil
// httpc uses a plain http.Client. POSTs are bounded by cfg.RequestTimeout;
// binary transfers only by their context.
func New(cfg config.Config, sess *Session, httpc Doer) *Client {
	if sess == nil {
		sess = &Session{}
	}
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &Client{
		Session:        sess,
		BaseURL:        cfg.FUSURL,
		DownloadBase:   cfg.DownloadURL,
		UserAgent:      cfg.UserAgent,
		RequestTimeout: cfg.RequestTimeout,
		HTTP:           httpc,
	}
}

func (c *Client) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// EnsureNonce asks the server for a nonce when the session has none.
func (c *Client) EnsureNonce(ctx context.Context) error {
	if strings.TrimSpace(c.Session.Nonce) != "" {
		return nil
	}
	return c.RegenerateNonce(ctx)
}

// RegenerateNonce unconditionally starts a new nonce.
func (c *Client) RegenerateNonce(ctx context.Context) error {
	c.log().Debug("generating nonce")
	if _, err := c.Send(ctx, GenerateNonce, ""); err != nil {
		return err
	}
	if c.Session.Nonce == "" {
		return &fuserr.ProtocolError{Reason: "server did not issue a nonce"}
	}
	c.log().Debug("nonce issued", "nonce", c.Session.Nonce, "signature", c.Session.Signature)
	return nil
}

// Nonce returns the current plaintext nonce, fetching one if needed.
func (c *Client) Nonce(ctx context.Context) (string, error) {
	if err := c.EnsureNonce(ctx); err != nil {
		return "", err
	}
	return c.Session.Nonce, nil
}

// Send posts body to the endpoint for kind and returns the response body.
// Session state is refreshed from the response headers.
func (c *Client) Send(ctx context.Context, kind Request, body string) (string, error) {
	if kind != GenerateNonce {
		if err := c.EnsureNonce(ctx); err != nil {
			return "", err
		}
	}

	for attempt := 0; ; attempt++ {
		status, text, err := c.post(ctx, kind, body)
		if err != nil {
			return "", err
		}
		if kind != GenerateNonce && unauthorized(status, text) {
			if attempt < maxReauth {
				c.log().Debug("session rejected, regenerating nonce", "request", string(kind), "attempt", attempt+1)
				if err := c.RegenerateNonce(ctx); err != nil {
					return "", err
				}
				continue
			}
			return "", &fuserr.ProtocolError{Status: "401", Reason: string(kind) + " unauthorized", Raw: text}
		}
		if status >= 400 {
			return "", &fuserr.ProtocolError{
				Status: strconv.Itoa(status),
				Reason: string(kind) + " returned HTTP " + strconv.Itoa(status),
				Raw:    text,
			}
		}
		return text, nil
	}
}

func (c *Client) post(ctx context.Context, kind Request, body string) (int, string, error) {
	if c.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.RequestTimeout)
		defer cancel()
	}

	url := c.BaseURL + string(kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	c.setAuth(req)
	req.Header.Set("Cookie", "JSESSIONID="+c.Session.SessionCookie)
	req.Header.Set("Set-Cookie", "JSESSIONID="+c.Session.SessionCookie)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, "", &fuserr.NetworkError{Op: "POST", URL: url, Err: err}
	}
	defer resp.Body.Close()

	c.absorb(resp.Header)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", &fuserr.NetworkError{Op: "POST", URL: url, Err: err}
	}
	return resp.StatusCode, string(data), nil
}

func (c *Client) setAuth(req *http.Request) {
	authv := fmt.Sprintf(`FUS nonce="%s", signature="%s", nc="", type="", realm="", newauth="1"`,
		c.Session.EncNonce, c.Session.Signature)
	req.Header.Set("Authorization", authv)
	req.Header.Set("User-Agent", c.UserAgent)
}

// absorb updates the session from a response. The nonce triple is replaced
// together or not at all.
func (c *Client) absorb(h http.Header) {
	if enc := h.Get("NONCE"); enc != "" {
		nonce, err := auth.DecryptNonce(enc)
		if err == nil {
			var sig string
			sig, err = auth.SignNonce(nonce)
			if err == nil {
				c.Session.EncNonce = enc
				c.Session.Nonce = nonce
				c.Session.Signature = sig
			}
		}
		if err != nil {
			c.log().Warn("ignoring unusable nonce", "error", err)
		}
	}

	for _, v := range h.Values("Set-Cookie") {
		if id, ok := sessionID(v); ok {
			c.Session.SessionCookie = id
			break
		}
	}
}

func sessionID(cookie string) (string, bool) {
	i := strings.Index(cookie, "JSESSIONID=")
	if i < 0 {
		return "", false
	}
	id := cookie[i+len("JSESSIONID="):]
	if j := strings.IndexByte(id, ';'); j >= 0 {
		id = id[:j]
	}
	return id, true
}

func unauthorized(status int, body string) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	var msg struct {
		Body struct {
			Results struct {
				Status string `xml:"Status"`
			} `xml:"Results"`
		} `xml:"FUSBody"`
	}
	if err := xml.Unmarshal([]byte(body), &msg); err != nil {
		return false
	}
	return strings.TrimSpace(msg.Body.Results.Status) == "401"
}
