package main

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"

	"github.com/streamvault/go-upload/storage"
)

const fileSchema = "file://"

// sourceProvider resolves an upload source argument to a local file path.
// Sources are plain paths, file:// paths, or http(s) URLs; remote sources are
// downloaded to a temporary directory first.
type sourceProvider struct {
	logger       log.Logger
	pathProvider pathutil.PathProvider
	pathModifier pathutil.PathModifier
}

func newSourceProvider(logger log.Logger) sourceProvider {
	return sourceProvider{
		logger:       logger,
		pathProvider: pathutil.NewPathProvider(),
		pathModifier: pathutil.NewPathModifier(),
	}
}

func (p sourceProvider) isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// LocalPath ...
func (p sourceProvider) LocalPath(ctx context.Context, src string) (string, error) {
	if strings.HasPrefix(src, fileSchema) {
		return p.pathModifier.AbsPath(strings.TrimPrefix(src, fileSchema))
	}
	if p.isRemote(src) {
		return p.download(ctx, src)
	}
	return src, nil
}

func (p sourceProvider) download(ctx context.Context, src string) (string, error) {
	parsed, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}

	dir, err := p.pathProvider.CreateTempDir("upload-source")
	if err != nil {
		return "", err
	}

	name := path.Base(parsed.Path)
	if name == "." || name == "/" {
		name = "source"
	}
	dest := filepath.Join(dir, name)

	p.logger.Debugf("Downloading %s to %s", src, dest)
	if err := storage.DownloadPublicURL(ctx, storage.NewHTTPClient(p.logger), src, dest); err != nil {
		return "", fmt.Errorf("download source: %w", err)
	}

	return dest, nil
}
