// Package s3 stores site photos in an S3-compatible bucket (AWS S3, MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/vbonduro/siteoptic/internal/photostore"
)

type Options struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

type S3PhotoStore struct {
	client *s3.Client
	bucket string
}

func NewS3PhotoStore(ctx context.Context, opts Options) (*S3PhotoStore, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true
	})

	store := &S3PhotoStore{client: client, bucket: opts.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *S3PhotoStore) ensureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}

	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func newKey(prefix, mimeType string) string {
	return prefix + "_" + uuid.NewString() + photostore.Ext(mimeType)
}

func (s *S3PhotoStore) Save(ctx context.Context, prefix, mimeType string, r io.Reader) (string, error) {
	// Buffer so the SDK gets a seekable body it can sign and checksum.
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read photo: %w", err)
	}

	key := newKey(prefix, mimeType)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload photo: %w", err)
	}
	return key, nil
}

func (s *S3PhotoStore) Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", photostore.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to download photo: %w", err)
	}

	mimeType := aws.ToString(out.ContentType)
	if mimeType == "" {
		mimeType = photostore.MimeTypeForKey(storageKey)
	}
	return out.Body, mimeType, nil
}

func (s *S3PhotoStore) Delete(ctx context.Context, storageKey string) error {
	// DeleteObject succeeds for missing keys, so check first to keep the
	// PhotoStore contract.
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	}); err != nil {
		if isNotFound(err) {
			return photostore.ErrNotFound
		}
		return fmt.Errorf("failed to stat photo: %w", err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	}); err != nil {
		return fmt.Errorf("failed to delete photo: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
