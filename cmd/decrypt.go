package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattchengg/fusgo/internal/pipeline"
	"github.com/mattchengg/fusgo/internal/request"
	"github.com/mattchengg/fusgo/internal/storage"
)

func decryptCmd() *cobra.Command {
	var (
		version string
		inFile  string
		outFile string
		encVer  int
		key     string
	)
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt downloaded firmware",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inFile == "" || outFile == "" {
				return errors.New("-I and -o are required for decrypt")
			}
			if key == "" && version == "" {
				return errors.New("-v or -k is required for decrypt")
			}
			ctx := cmd.Context()

			q := request.Query{FW: version, Model: model, Region: region}
			c := newClient()
			if key == "" && (encVer == 4 || encVer == 0 && strings.HasSuffix(inFile, ".enc4")) {
				id, err := deviceID(ctx, c, version)
				if err != nil {
					return err
				}
				q.IMEISerial = id
			}

			bar := newProgressBar()
			defer bar.Finish()
			d := pipeline.NewDecrypter(cfg, c, c.Log, bar.Update)
			out, err := d.Run(ctx, pipeline.DecryptJob{
				Query:     q,
				Input:     storage.OSFile{Path: inFile},
				Output:    storage.OSFile{Path: outFile},
				KeyString: key,
				Scheme:    encVer,
			})
			bar.Finish()
			if err != nil {
				return err
			}
			if out.Cancelled {
				reportCancelled(true)
				return nil
			}
			fmt.Println("Decryption completed.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&version, "version", "v", "", "firmware version")
	cmd.Flags().StringVarP(&inFile, "in", "I", "", "input file (encrypted)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (decrypted)")
	cmd.Flags().IntVarP(&encVer, "enc-version", "V", 0, "encryption version: 2, 4, or 0 to pick from the input suffix")
	cmd.Flags().StringVarP(&key, "key", "k", "", "saved key derivation string (from a DecryptionKey_ file)")
	return cmd
}
