// Package cmd implements the fusgo command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattchengg/fusgo/internal/config"
	"github.com/mattchengg/fusgo/internal/fusclient"
	"github.com/mattchengg/fusgo/internal/imei"
	"github.com/mattchengg/fusgo/internal/request"
	"github.com/mattchengg/fusgo/internal/versionfetch"
)

var (
	model  string
	region string
	imeiIn string
	serial string
	debug  bool

	cfg = config.Default()
)

func Execute() error {
	root := &cobra.Command{
		Use:   "fusgo",
		Short: "Samsung firmware downloader",
		Long: `fusgo checks, downloads and decrypts Samsung firmware from the FUS servers.

Examples:
  fusgo -m SM-G998B -r EUX checkupdate
  fusgo -m SM-G998B -r EUX -i 35123456 download -O .
  fusgo -m SM-G998B -r EUX -i 351234567890123 decrypt -v VER/CODE -I file.enc4 -o file.zip`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				level.Set(slog.LevelDebug)
			}
		},
	}

	root.PersistentFlags().StringVarP(&model, "model", "m", "", "device model (e.g. SM-G998B)")
	root.PersistentFlags().StringVarP(&region, "region", "r", "", "device region code (e.g. EUX, XAR)")
	root.PersistentFlags().StringVarP(&imeiIn, "imei", "i", "", "device IMEI (15 digits) or TAC (8 digits)")
	root.PersistentFlags().StringVarP(&serial, "serial", "s", "", "device serial number, for devices without IMEI")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	_ = root.MarkPersistentFlagRequired("model")
	_ = root.MarkPersistentFlagRequired("region")

	root.AddCommand(checkUpdateCmd(), downloadCmd(), decryptCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := root.ExecuteContext(ctx)
	if err != nil {
		slog.Error(err.Error())
	}
	return err
}

func newClient() *fusclient.Client {
	c := fusclient.New(cfg, nil, &http.Client{})
	c.Log = slog.Default()
	return c
}

// latestVersion looks up the current firmware when none was given.
func latestVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.VersionTimeout)
	defer cancel()
	res, err := versionfetch.New(cfg).Latest(ctx, model, region)
	if err != nil {
		return "", fmt.Errorf("getting latest version: %w", err)
	}
	return res.VersionCode, nil
}

// deviceID returns the IMEI or serial to send, expanding a TAC by probing
// the server with fw.
func deviceID(ctx context.Context, c *fusclient.Client, fw string) (string, error) {
	switch {
	case imeiIn != "":
		if strings.ContainsAny(imeiIn, ";\n") {
			slog.Info("IMEI list is provided", "imei", imeiIn)
			return imeiIn, nil
		}
		if len(imeiIn) == 15 {
			slog.Info("IMEI is provided", "imei", imeiIn)
		}
		v := &imei.Validator{Resolver: request.NewResolver(c)}
		return v.Expand(ctx, imeiIn, request.Query{FW: fw, Model: model, Region: region})
	case serial != "":
		slog.Info("serial number is provided", "serial", serial)
		return serial, nil
	}
	return "", errors.New("IMEI or serial number is required (-i or -s)")
}

// reportCancelled prints the outcome of a stopped job.
func reportCancelled(cancelled bool) {
	if cancelled {
		fmt.Println("Cancelled.")
	}
}
