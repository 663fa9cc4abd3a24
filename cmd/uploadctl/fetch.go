package main

import (
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"

	"github.com/streamvault/go-upload/storage"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url> <destination>",
	Short: "Download a finished object through its public URL",
	Args:  cobra.ExactArgs(2),
	RunE:  runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger := log.NewLogger()
	logger.EnableDebugLog(verbose)

	client := storage.NewHTTPClient(logger)
	if err := storage.DownloadPublicURL(cmd.Context(), client, args[0], args[1]); err != nil {
		return err
	}

	logger.Donef("Downloaded %s to %s", args[0], args[1])
	return nil
}
