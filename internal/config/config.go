// Package config holds the runtime options shared by the commands.
package config

import (
	"os"
	"time"
)

const (
	DefaultFUSURL      = "https://neofussvr.sslcs.cdngc.net/"
	DefaultDownloadURL = "http://cloud-neofussvr.samsungmobile.com/"
	DefaultVersionURL  = "https://fota-cloud-dn.ospserver.net/"
	DefaultUserAgent   = "Kies2.0_FUS"

	// DefaultChunkSize is a multiple of the AES block size.
	DefaultChunkSize = 0x300000
)

// Config holds runtime wiring options.
type Config struct {
	FUSURL      string // base for the NF_*.do POST endpoints
	DownloadURL string // base for NF_DownloadBinaryForMass.do
	VersionURL  string // base for firmware/<region>/<model>/version.xml
	UserAgent   string

	ChunkSize      int
	RequestTimeout time.Duration // FUS and version requests; binary transfers are unbounded
	VersionTimeout time.Duration

	SaveDecryptionKey   bool // write DecryptionKey_<name>.txt next to the download
	AutoDeleteEncrypted bool // remove the encrypted file after a successful decrypt
}

// Default returns the stock configuration with environment overrides applied.
func Default() Config {
	c := Config{
		FUSURL:              DefaultFUSURL,
		DownloadURL:         DefaultDownloadURL,
		VersionURL:          DefaultVersionURL,
		UserAgent:           DefaultUserAgent,
		ChunkSize:           DefaultChunkSize,
		RequestTimeout:      30 * time.Second,
		VersionTimeout:      10 * time.Second,
		AutoDeleteEncrypted: true,
	}
	c.applyEnv()
	return c
}

func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		"FUSGO_FUS_URL":      &c.FUSURL,
		"FUSGO_DOWNLOAD_URL": &c.DownloadURL,
		"FUSGO_VERSION_URL":  &c.VersionURL,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}
