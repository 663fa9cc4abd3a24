package storage

import (
	"context"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/melbahja/got"
)

// DownloadPublicURL fetches an object through its public URL into dest,
// using ranged requests so large videos don't have to fit in memory.
func DownloadPublicURL(ctx context.Context, client *http.Client, url string, dest string) error {
	downloader := got.New()
	downloader.Client = client

	return downloader.Do(got.NewDownload(ctx, url, dest))
}

// NewHTTPClient returns the retrying http.Client the engine uses for all
// direct HTTP traffic (presigned URLs, tus endpoints, public URL downloads).
func NewHTTPClient(logger log.Logger) *http.Client {
	return retryhttp.NewClient(logger).StandardClient()
}
