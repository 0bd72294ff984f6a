package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattchengg/fusgo/internal/cryptutils"
	"github.com/mattchengg/fusgo/internal/fuserr"
	"github.com/mattchengg/fusgo/internal/pipeline"
	"github.com/mattchengg/fusgo/internal/request"
	"github.com/mattchengg/fusgo/internal/storage"
)

func downloadCmd() *cobra.Command {
	var (
		version       string
		outDir        string
		outFile       string
		showMD5       bool
		yes           bool
		noDecrypt     bool
		keepEncrypted bool
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download, verify and decrypt firmware",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir == "" && outFile == "" {
				return errors.New("either -O or -o must be specified")
			}
			ctx := cmd.Context()

			if version == "" {
				v, err := latestVersion(ctx)
				if err != nil {
					return err
				}
				version = v
			}

			c := newClient()
			id, err := deviceID(ctx, c, version)
			if err != nil {
				return err
			}

			if keepEncrypted {
				cfg.AutoDeleteEncrypted = false
			}

			bar := newProgressBar()
			defer bar.Finish()
			d := pipeline.NewDownloader(cfg, c, c.Log, bar.Update)

			targets, err := downloadTargets(outDir, outFile)
			if err != nil {
				return err
			}
			confirm := confirmMismatch
			if yes {
				confirm = func(context.Context, *fuserr.VersionMismatchError) (bool, error) { return true, nil }
			}

			fmt.Println("Device:", model)
			fmt.Println("CSC:", region)
			fmt.Println("FW Version:", version)

			out, err := d.Run(ctx, pipeline.Job{
				Query: request.Query{
					FW:         version,
					Model:      model,
					Region:     region,
					IMEISerial: id,
				},
				Confirm: confirm,
				Targets: func(name string) pipeline.Target {
					t := targets(name)
					fmt.Println("File Path:", t.Encrypted)
					return t
				},
				SkipDecrypt: noDecrypt,
			})
			bar.Finish()
			if err != nil {
				return err
			}
			if out.Cancelled {
				reportCancelled(true)
				return nil
			}

			if out.Skipped {
				fmt.Println("File already downloaded and decrypted!")
				return nil
			}
			fmt.Printf("FW Size: %.3f GB\n", float64(out.Info.Size)/(1024*1024*1024))
			if out.Transfer != nil && out.Transfer.Skipped {
				fmt.Println("Already downloaded!")
			}
			if showMD5 && out.MD5 != "" {
				fmt.Println("MD5:", out.MD5)
			}
			if noDecrypt {
				fmt.Println("Download completed:", out.Target.Encrypted)
			} else {
				fmt.Printf("File %s has been decrypted.\n", out.Target.Decrypted)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&version, "version", "v", "", "firmware version (latest if not specified)")
	cmd.Flags().StringVarP(&outDir, "out-dir", "O", "", "output directory")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file")
	cmd.Flags().BoolVarP(&showMD5, "md5", "M", false, "show the verified MD5 hash")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept a firmware that differs from the requested version")
	cmd.Flags().BoolVar(&noDecrypt, "no-decrypt", false, "keep the verified encrypted file without decrypting it")
	cmd.Flags().BoolVar(&keepEncrypted, "keep-encrypted", false, "keep the encrypted file after decrypting")
	cmd.Flags().BoolVar(&cfg.SaveDecryptionKey, "save-key", cfg.SaveDecryptionKey, "write the key derivation string next to the firmware")
	return cmd
}

// downloadTargets maps the server file name to output files. A -o that names
// an existing directory behaves like -O.
func downloadTargets(outDir, outFile string) (func(string) pipeline.Target, error) {
	if outFile != "" {
		if fi, err := os.Stat(outFile); err == nil && fi.IsDir() {
			outDir, outFile = outFile, ""
		}
	}
	if outFile == "" {
		dir := storage.Dir(outDir)
		if err := dir.Ensure(); err != nil {
			return nil, err
		}
		return pipeline.DirTargets(dir), nil
	}

	dir := storage.Dir(filepath.Dir(outFile))
	return func(name string) pipeline.Target {
		enc := outFile
		if cryptutils.DecryptedName(enc) == enc && cryptutils.DecryptedName(name) != name {
			// -o names the decrypted file; keep the server's suffix for the download.
			enc += filepath.Ext(name)
		}
		return pipeline.Target{
			Encrypted: storage.OSFile{Path: enc},
			Decrypted: storage.OSFile{Path: cryptutils.DecryptedName(enc)},
			KeyFile:   dir.Child("DecryptionKey_" + name + ".txt"),
		}
	}, nil
}

// confirmMismatch asks on stdin whether to take the firmware the server offers.
func confirmMismatch(ctx context.Context, m *fuserr.VersionMismatchError) (bool, error) {
	fmt.Println(m.Error())
	fmt.Print("Download it anyway? [y/N] ")

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case a := <-answer:
		return a == "y" || a == "yes", nil
	case <-ctx.Done():
		fmt.Println()
		return false, fuserr.ErrCancelled
	}
}
