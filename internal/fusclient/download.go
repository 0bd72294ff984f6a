package fusclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/mattchengg/fusgo/internal/fuserr"
)

// Binary is an open firmware transfer.
type Binary struct {
	Body io.ReadCloser

	// MD5 is the raw Content-MD5 header, empty when absent.
	MD5 string

	// ContentLength of this response, -1 when unknown.
	ContentLength int64

	// Partial is set when the server honoured the Range header.
	Partial bool
}

// DownloadURL returns the transfer URL for a server-side path.
func (c *Client) DownloadURL(path string) string {
	return c.DownloadBase + "NF_DownloadBinaryForMass.do?file=" + path
}

// OpenBinary starts the GET for path, resuming at offset when it is positive.
// The caller owns the returned body.
func (c *Client) OpenBinary(ctx context.Context, path string, offset int64) (*Binary, error) {
	url := c.DownloadURL(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &fuserr.NetworkError{Op: "GET", URL: url, Err: err}
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &fuserr.ProtocolError{
			Status: strconv.Itoa(resp.StatusCode),
			Reason: "binary download returned HTTP " + strconv.Itoa(resp.StatusCode),
		}
	}

	return &Binary{
		Body:          resp.Body,
		MD5:           resp.Header.Get("Content-MD5"),
		ContentLength: resp.ContentLength,
		Partial:       resp.StatusCode == http.StatusPartialContent,
	}, nil
}
