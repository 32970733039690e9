// Package store provides an optional S3-backed content store used by AETs
// configured with backend: S3 instead of a live DIMSE peer: objects are
// stored at prefix/<study>/<series>/<sop-instance>.dcm and retrieved the
// same way, bypassing the association pool and mediator entirely.
package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store is a thin, explicit-bucket content store.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store loads the default AWS config chain (env vars, shared config,
// instance profile) and binds it to bucket/prefix.
func NewS3Store(ctx context.Context, bucket, prefix, region string) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: load aws config: %w", err)
	}
	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (s *S3Store) key(studyUID, seriesUID, sopInstanceUID string) string {
	key := studyUID
	if seriesUID != "" {
		key += "/" + seriesUID
	}
	if sopInstanceUID != "" {
		key += "/" + sopInstanceUID + ".dcm"
	}
	if s.prefix != "" {
		return s.prefix + "/" + key
	}
	return key
}

// Put stores one Part-10 file's bytes under its study/series/instance UIDs.
func (s *S3Store) Put(ctx context.Context, studyUID, seriesUID, sopInstanceUID string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(studyUID, seriesUID, sopInstanceUID)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("store: put %s: %w", sopInstanceUID, err)
	}
	return nil
}

// Get retrieves one stored instance's bytes.
func (s *S3Store) Get(ctx context.Context, studyUID, seriesUID, sopInstanceUID string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(studyUID, seriesUID, sopInstanceUID)),
	})
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", sopInstanceUID, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("store: read %s: %w", sopInstanceUID, err)
	}
	return buf.Bytes(), nil
}

// GetByKey retrieves an object by the exact key ListInstances reported.
func (s *S3Store) GetByKey(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("store: read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// ListInstances returns the object keys under a study (optionally scoped
// to a series), used to enumerate what WADO retrieve should stream back
// for an S3-backed AET.
func (s *S3Store) ListInstances(ctx context.Context, studyUID, seriesUID string) ([]string, error) {
	prefix := s.key(studyUID, seriesUID, "")
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("store: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}
