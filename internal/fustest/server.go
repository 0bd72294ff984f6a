// Package fustest provides an in-process FUS server for tests.
package fustest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/cristalhq/base64"

	"github.com/mattchengg/fusgo/internal/auth"
	"github.com/mattchengg/fusgo/internal/config"
)

// Server fakes the FUS endpoints, the binary download endpoint and the
// version.xml endpoint. Fields may be set before the first request.
type Server struct {
	*httptest.Server

	// Nonces are issued in order; the last one repeats.
	Nonces  []string
	Cookie  string
	Version string // version.xml body

	// Inform answers NF_DownloadBinaryInform.do. n counts calls from 1.
	Inform func(n int, body string) string

	Binary    []byte
	BinaryMD5 string // Content-MD5 header value
	NoRange   bool   // ignore Range headers

	// Unauthorized makes the next k non-nonce POSTs answer HTTP 401.
	Unauthorized int

	mu       sync.Mutex
	issued   int
	informs  int
	Requests []Recorded
}

// Recorded is a request seen by the server.
type Recorded struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

func NewServer(t *testing.T) *Server {
	s := &Server{
		Nonces: []string{"0123456789ABCDEF"},
		Cookie: "session-1",
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Config returns a configuration that points every endpoint at s.
func (s *Server) Config() config.Config {
	c := config.Default()
	c.FUSURL = s.URL + "/"
	c.DownloadURL = s.URL + "/"
	c.VersionURL = s.URL + "/"
	c.ChunkSize = 64
	return c
}

// EncryptNonce returns the NONCE header value for a plaintext nonce.
func EncryptNonce(nonce string) string {
	enc, err := auth.AESEncrypt([]byte(nonce), []byte(auth.KEY_1))
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(enc)
}

// Count returns how many recorded requests hit path.
func (s *Server) Count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.Requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Last returns the most recent request to path.
func (s *Server) Last(path string) (Recorded, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.Requests) - 1; i >= 0; i-- {
		if s.Requests[i].Path == path {
			return s.Requests[i], true
		}
	}
	return Recorded{}, false
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.Requests = append(s.Requests, Recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	s.mu.Unlock()

	switch {
	case r.URL.Path == "/NF_DownloadGenerateNonce.do":
		s.issueNonce(w)
	case r.URL.Path == "/NF_DownloadBinaryInform.do":
		if s.reject(w) {
			return
		}
		s.mu.Lock()
		s.informs++
		n := s.informs
		s.mu.Unlock()
		if s.Inform == nil {
			http.Error(w, "no inform handler", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, s.Inform(n, string(body)))
	case r.URL.Path == "/NF_DownloadBinaryInitForMass.do":
		if s.reject(w) {
			return
		}
		io.WriteString(w, Response("200", nil, nil))
	case r.URL.Path == "/NF_DownloadBinaryForMass.do":
		s.serveBinary(w, r)
	case strings.HasSuffix(r.URL.Path, "/version.xml"):
		if s.Version == "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		io.WriteString(w, s.Version)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) issueNonce(w http.ResponseWriter) {
	s.mu.Lock()
	i := min(s.issued, len(s.Nonces)-1)
	s.issued++
	s.mu.Unlock()
	w.Header().Set("NONCE", EncryptNonce(s.Nonces[i]))
	w.Header().Set("Set-Cookie", "JSESSIONID="+s.Cookie+"; Path=/; HttpOnly")
}

func (s *Server) reject(w http.ResponseWriter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unauthorized > 0 {
		s.Unauthorized--
		w.WriteHeader(http.StatusUnauthorized)
		return true
	}
	return false
}

func (s *Server) serveBinary(w http.ResponseWriter, r *http.Request) {
	data := s.Binary
	if s.BinaryMD5 != "" {
		w.Header().Set("Content-MD5", s.BinaryMD5)
	}
	var start int
	if rg := r.Header.Get("Range"); rg != "" && !s.NoRange {
		v := strings.TrimSuffix(strings.TrimPrefix(rg, "bytes="), "-")
		n, err := strconv.Atoi(v)
		if err != nil || n > len(data) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		start = n
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", n, len(data)-1, len(data)))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)-n))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	}
	io.Copy(w, bytes.NewReader(data[start:]))
}

// Response renders a FUS response body. Keys are emitted in sorted order.
func Response(status string, results, put map[string]string) string {
	var b strings.Builder
	b.WriteString("<FUSMsg><FUSHdr><ProtoVer>1.0</ProtoVer></FUSHdr><FUSBody><Results>")
	if status != "" {
		b.WriteString("<Status>" + status + "</Status>")
	}
	writeData(&b, results)
	b.WriteString("</Results><Put>")
	writeData(&b, put)
	b.WriteString("</Put></FUSBody></FUSMsg>")
	return b.String()
}

func writeData(b *strings.Builder, fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "<%s><Data>%s</Data></%s>", k, fields[k], k)
	}
}

// TestingLog adapts t to an io.Writer for slog handlers.
func TestingLog(t *testing.T) io.Writer { return (*testLog)(t) }

type testLog testing.T

func (t *testLog) Write(p []byte) (int, error) {
	(*testing.T)(t).Helper()
	(*testing.T)(t).Log(string(bytes.TrimSpace(p)))
	return len(p), nil
}
