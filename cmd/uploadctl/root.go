// uploadctl drives the resumable chunked upload engine from the command
// line: select video files, upload them to object storage, fetch finished
// objects back.
package main

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"

	"github.com/streamvault/go-upload/storage"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "uploadctl",
	Short:         "Resumable chunked uploads to object storage",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func execute() error {
	logger := log.NewLogger()

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logger.EnableDebugLog(verbose)
	}

	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("%s", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(thumbnailCmd)
	rootCmd.AddCommand(fetchCmd)
}

// Secret is a config value that redacts itself when printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

type engineConfig struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey Secret
	PublicBaseURL   string
	SessionAPIURL   string
	SessionAPIToken Secret
	TusURL          string
}

// createConfig reads the engine configuration from the environment.
func createConfig(envRepo env.Repository) (engineConfig, error) {
	bucket := envRepo.Get("UPLOAD_S3_BUCKET")
	if bucket == "" {
		return engineConfig{}, fmt.Errorf("the variable 'UPLOAD_S3_BUCKET' is not defined")
	}
	region := envRepo.Get("UPLOAD_S3_REGION")
	if region == "" {
		return engineConfig{}, fmt.Errorf("the variable 'UPLOAD_S3_REGION' is not defined")
	}

	return engineConfig{
		Bucket:          bucket,
		Region:          region,
		AccessKeyID:     envRepo.Get("UPLOAD_AWS_ACCESS_KEY_ID"),
		SecretAccessKey: Secret(envRepo.Get("UPLOAD_AWS_SECRET_ACCESS_KEY")),
		PublicBaseURL:   envRepo.Get("UPLOAD_PUBLIC_BASE_URL"),
		SessionAPIURL:   envRepo.Get("UPLOAD_SESSION_API_URL"),
		SessionAPIToken: Secret(envRepo.Get("UPLOAD_SESSION_API_TOKEN")),
		TusURL:          envRepo.Get("UPLOAD_TUS_URL"),
	}, nil
}

func newObjectStorage(cmd *cobra.Command, cfg engineConfig, logger log.Logger) (storage.ObjectStorage, error) {
	return storage.NewS3Storage(cmd.Context(), storage.S3Params{
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: string(cfg.SecretAccessKey),
		PublicBaseURL:   cfg.PublicBaseURL,
	}, logger)
}
