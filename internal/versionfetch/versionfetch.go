// Package versionfetch queries the public version.xml feed for the latest
// firmware of a model and region. It needs no FUS session.
package versionfetch

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mattchengg/fusgo/internal/config"
	"github.com/mattchengg/fusgo/internal/fuserr"
)

// ErrNotFound is returned when the feed has no entry for the model and region.
var ErrNotFound = errors.New("model or region not found")

// Result of a version lookup. RawOutput holds the response body whenever one
// was read, including on error.
type Result struct {
	VersionCode    string
	AndroidVersion string
	RawOutput      string
	Err            error
}

type FirmwareSpec struct {
	Version string
	Size    int64
}

// Info lists the latest firmware and the upgrade entries of the feed.
type Info struct {
	Latest         FirmwareSpec
	AndroidVersion string
	Upgrade        []FirmwareSpec
}

type versionXML struct {
	Latest struct {
		Text    string `xml:",chardata"`
		Android string `xml:"o,attr"`
	} `xml:"latest"`
	Upgrade struct {
		Value []struct {
			Text   string `xml:",chardata"`
			FWSize string `xml:"fwsize,attr"`
		} `xml:"value"`
	} `xml:"upgrade"`
}

// document covers the three roots the feed uses: <versioninfo>, a bare
// <firmware>, and <Error>.
type document struct {
	XMLName xml.Name

	Code    string `xml:"Code"`
	Message string `xml:"Message"`

	Firmware struct {
		Version versionXML `xml:"version"`
	} `xml:"firmware"`
	Version versionXML `xml:"version"`
}

func (d *document) version() (*versionXML, error) {
	switch d.XMLName.Local {
	case "Error":
		return nil, fmt.Errorf("version server error: Code: %s, Message: %s",
			strings.TrimSpace(d.Code), strings.TrimSpace(d.Message))
	case "firmware":
		return &d.Version, nil
	default:
		return &d.Firmware.Version, nil
	}
}

type Fetcher struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
	Log       *slog.Logger
}

func New(cfg config.Config) *Fetcher {
	return &Fetcher{
		BaseURL:   cfg.VersionURL,
		UserAgent: cfg.UserAgent,
		HTTP:      &http.Client{Timeout: cfg.VersionTimeout},
	}
}

func (f *Fetcher) log() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.Default()
}

// Latest returns the newest firmware for model in region, normalised to four
// segments. On failure the returned Result still carries RawOutput.
func (f *Fetcher) Latest(ctx context.Context, model, region string) (*Result, error) {
	body, err := f.fetch(ctx, model, region)
	res := &Result{RawOutput: string(body)}
	if err != nil {
		res.Err = err
		return res, err
	}

	v, err := decode(body)
	if err == nil && strings.TrimSpace(v.Latest.Text) == "" {
		err = errors.New("no firmware available")
	}
	if err != nil {
		res.Err = err
		return res, err
	}
	res.VersionCode = NormalizeVersion(strings.TrimSpace(v.Latest.Text))
	res.AndroidVersion = v.Latest.Android
	f.log().Debug("latest firmware", "model", model, "region", region, "version", res.VersionCode)
	return res, nil
}

// Info returns the latest firmware and the listed upgrade builds.
func (f *Fetcher) Info(ctx context.Context, model, region string) (*Info, error) {
	body, err := f.fetch(ctx, model, region)
	if err != nil {
		return nil, err
	}
	v, err := decode(body)
	if err != nil {
		return nil, err
	}

	info := &Info{AndroidVersion: v.Latest.Android}
	if latest := strings.TrimSpace(v.Latest.Text); latest != "" {
		info.Latest = FirmwareSpec{Version: NormalizeVersion(latest)}
	}
	for _, u := range v.Upgrade.Value {
		size, _ := strconv.ParseInt(u.FWSize, 10, 64)
		info.Upgrade = append(info.Upgrade, FirmwareSpec{
			Version: NormalizeVersion(strings.TrimSpace(u.Text)),
			Size:    size,
		})
	}
	return info, nil
}

func decode(body []byte) (*versionXML, error) {
	var doc document
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse version.xml: %w", err)
	}
	return doc.version()
}

func (f *Fetcher) fetch(ctx context.Context, model, region string) ([]byte, error) {
	url := fmt.Sprintf("%sfirmware/%s/%s/version.xml", f.BaseURL, region, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, &fuserr.NetworkError{Op: "GET", URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fuserr.NetworkError{Op: "GET", URL: url, Err: err}
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		return body, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return body, fmt.Errorf("version server returned HTTP %d", resp.StatusCode)
	}
	return body, nil
}

// NormalizeVersion expands a firmware string to PDA/CSC/CP/PDA form. Missing
// and empty segments after the second take the first segment.
func NormalizeVersion(code string) string {
	ver := strings.Split(code, "/")
	if len(ver) < 2 {
		return code
	}
	for len(ver) < 4 {
		ver = append(ver, ver[0])
	}
	if ver[2] == "" {
		ver[2] = ver[0]
	}
	return strings.Join(ver, "/")
}
