package main

import (
	"encoding/json"
	"mime"
	"os"
	"path/filepath"

	"deanalyse/app"
	"deanalyse/internal/container"
	"deanalyse/internal/errors"

	"github.com/spf13/cobra"
)

func newProfileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <file>",
		Short: "Profile a CSV or Excel file and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "failed to read %s", args[0])
			}

			c, err := container.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = c.Shutdown(cmd.Context()) }()

			result, err := c.Upload.Upload(cmd.Context(), app.UploadRequest{
				Filename:    filepath.Base(args[0]),
				ContentType: mime.TypeByExtension(filepath.Ext(args[0])),
				Data:        data,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result.Profile)
		},
	}
}
