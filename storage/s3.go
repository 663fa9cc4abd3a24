package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
)

const uploadPartSizeMB = 10

// S3Params ...
type S3Params struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// PublicBaseURL is the CDN or website base URL objects are served from.
	// When empty, the virtual-hosted S3 URL is used.
	PublicBaseURL string
}

// S3Storage implements ObjectStorage on top of an S3 bucket.
type S3Storage struct {
	client        *s3.Client
	bucket        string
	region        string
	publicBaseURL string
	logger        log.Logger
}

// NewS3Storage creates the storage backend used for chunk artifacts and final objects.
func NewS3Storage(ctx context.Context, params S3Params, logger log.Logger) (*S3Storage, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSConfig(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return &S3Storage{
		client:        s3.NewFromConfig(*cfg),
		bucket:        params.Bucket,
		region:        params.Region,
		publicBaseURL: strings.TrimSuffix(params.PublicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Put ...
func (s *S3Storage) Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSizeMB * 1024 * 1024
	})

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Body:          body,
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(path),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", path, err)
	}

	return nil
}

// Get ...
func (s *S3Storage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}

	return result.Body, nil
}

// Head ...
func (s *S3Storage) Head(ctx context.Context, path string) (int64, error) {
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, ErrObjectNotFound
		}
		return 0, fmt.Errorf("head object %s: %w", path, err)
	}

	if result.ContentLength == nil {
		return 0, nil
	}
	return *result.ContentLength, nil
}

// Copy ...
func (s *S3Storage) Copy(ctx context.Context, srcPath, dstPath, contentType string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(dstPath),
		CopySource:        aws.String(fmt.Sprintf("%s/%s", s.bucket, srcPath)),
		ContentType:       aws.String(contentType),
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		return fmt.Errorf("copy object %s to %s: %w", srcPath, dstPath, err)
	}

	return nil
}

// Delete ...
func (s *S3Storage) Delete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	objects := make([]types.ObjectIdentifier, 0, len(paths))
	for _, path := range paths {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(path)})
	}

	result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	for _, deleteErr := range result.Errors {
		s.logger.Warnf("delete %s: %s", aws.ToString(deleteErr.Key), aws.ToString(deleteErr.Message))
	}

	return nil
}

// PublicURL ...
func (s *S3Storage) PublicURL(path string) string {
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s", s.publicBaseURL, path)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, path)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		return apiError.ErrorCode() == "NotFound" || apiError.ErrorCode() == "NoSuchKey"
	}
	return false
}

func loadAWSConfig(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	} else {
		logger.Debugf("static aws credentials not defined, loading credentials from environment...")
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load default aws config: %w", err)
	}

	return &cfg, nil
}
