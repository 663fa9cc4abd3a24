package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/streamvault/go-upload/upload"
	"github.com/streamvault/go-upload/upload/session"
)

var (
	ownerID   string
	chunkSize string
	auditDir  string
	metadata  []string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <path or glob> [...]",
	Short: "Upload video files through the chunked transfer engine",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUpload,
}

var thumbnailCmd = &cobra.Command{
	Use:   "thumbnail <path>",
	Short: "Upload a single thumbnail image (no session, single-shot)",
	Args:  cobra.ExactArgs(1),
	RunE:  runThumbnail,
}

func init() {
	uploadCmd.Flags().StringVar(&ownerID, "owner", "", "Owner id prefixing all storage paths (required)")
	uploadCmd.Flags().StringVar(&chunkSize, "chunk-size", "5MiB", "Chunk size, e.g. 5MiB")
	uploadCmd.Flags().StringVar(&auditDir, "audit-dir", "", "Directory for the persisted audit trail")
	uploadCmd.Flags().StringArrayVar(&metadata, "metadata", nil, "Session metadata as key=value, repeatable")
	_ = uploadCmd.MarkFlagRequired("owner")

	thumbnailCmd.Flags().StringVar(&ownerID, "owner", "", "Owner id prefixing all storage paths (required)")
	_ = thumbnailCmd.MarkFlagRequired("owner")
}

func runUpload(cmd *cobra.Command, args []string) error {
	logger := log.NewLogger()
	logger.EnableDebugLog(verbose)
	envRepo := env.NewRepository()

	cfg, err := createConfig(envRepo)
	if err != nil {
		return err
	}

	provider := newSourceProvider(logger)
	var localArgs, paths []string
	for _, arg := range args {
		if provider.isRemote(arg) || strings.HasPrefix(arg, fileSchema) {
			resolved, err := provider.LocalPath(cmd.Context(), arg)
			if err != nil {
				return err
			}
			paths = append(paths, resolved)
			continue
		}
		localArgs = append(localArgs, arg)
	}

	expanded, err := expandPaths(localArgs, logger)
	if err != nil {
		return err
	}
	paths = append(paths, expanded...)
	if len(paths) == 0 {
		return fmt.Errorf("no files matched the given paths")
	}

	size, err := units.RAMInBytes(chunkSize)
	if err != nil {
		return fmt.Errorf("parse chunk size: %w", err)
	}

	objectStorage, err := newObjectStorage(cmd, cfg, logger)
	if err != nil {
		return err
	}
	store := newSessionStore(cfg, logger)

	meta, err := parseMetadata(metadata)
	if err != nil {
		return err
	}

	for _, path := range paths {
		controller := upload.NewController(upload.Config{
			OwnerID:     ownerID,
			ChunkSize:   size,
			AuditDir:    auditDir,
			TusEndpoint: cfg.TusURL,
		}, objectStorage, store, logger)

		controller.Subscribe(func(state upload.State) {
			if state.IsUploading {
				logger.Printf("%s: %d%%", filepath.Base(path), state.Progress)
			}
		})

		url, err := controller.Start(cmd.Context(), path, meta)
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		logger.Donef("%s -> %s", path, url)
	}

	return nil
}

func runThumbnail(cmd *cobra.Command, args []string) error {
	logger := log.NewLogger()
	logger.EnableDebugLog(verbose)
	envRepo := env.NewRepository()

	cfg, err := createConfig(envRepo)
	if err != nil {
		return err
	}

	objectStorage, err := newObjectStorage(cmd, cfg, logger)
	if err != nil {
		return err
	}

	controller := upload.NewController(upload.Config{OwnerID: ownerID}, objectStorage, newSessionStore(cfg, logger), logger)

	path, err := newSourceProvider(logger).LocalPath(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	url, err := controller.UploadThumbnail(cmd.Context(), path)
	if err != nil {
		return err
	}
	logger.Donef("%s -> %s", args[0], url)

	return nil
}

func newSessionStore(cfg engineConfig, logger log.Logger) session.Store {
	if cfg.SessionAPIURL == "" {
		logger.Debugf("no session API configured, using in-process session store")
		return session.NewMemoryStore()
	}
	return session.NewAPIStore(retryhttp.NewClient(logger), cfg.SessionAPIURL, string(cfg.SessionAPIToken), logger)
}

// expandPaths resolves glob patterns against the filesystem and drops
// entries that don't exist.
func expandPaths(args []string, logger log.Logger) ([]string, error) {
	pathModifier := pathutil.NewPathModifier()
	pathChecker := pathutil.NewPathChecker()

	var expanded []string
	for _, arg := range args {
		if !strings.Contains(arg, "*") {
			expanded = append(expanded, arg)
			continue
		}

		base, pattern := doublestar.SplitPattern(arg)
		absBase, err := pathModifier.AbsPath(base)
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
		if err != nil {
			logger.Warnf("Error in path pattern '%s': %s", arg, err)
			continue
		}
		if matches == nil {
			logger.Warnf("No match for path pattern: %s", arg)
			continue
		}
		for _, match := range matches {
			expanded = append(expanded, filepath.Join(base, match))
		}
	}

	var finalPaths []string
	for _, path := range expanded {
		absPath, err := pathModifier.AbsPath(path)
		if err != nil {
			logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}
		exists, err := pathChecker.IsPathExists(absPath)
		if err != nil {
			logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if !exists {
			logger.Warnf("File doesn't exist: %s", path)
			continue
		}
		finalPaths = append(finalPaths, absPath)
	}

	return finalPaths, nil
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid metadata entry %q, expected key=value", pair)
		}
		meta[key] = value
	}
	return meta, nil
}
