package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client loads the default AWS credential chain for region.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// S3Store keeps media in a bucket. Object metadata carries the owner and
// original file name so Get can rebuild the Asset.
type S3Store struct {
	client  S3API
	bucket  string
	baseURL string
	maxSize int64
}

// NewS3Store returns a store writing to bucket. Asset URLs are baseURL/<key>;
// an empty baseURL uses the virtual-hosted bucket URL.
func NewS3Store(client S3API, bucket, region, baseURL string, maxSize int64) *S3Store {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &S3Store{client: client, bucket: bucket, baseURL: strings.TrimSuffix(baseURL, "/"), maxSize: maxSize}
}

func (s *S3Store) Put(ctx context.Context, req UploadRequest, body io.Reader) (*Asset, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	data, err := readLimited(body, s.maxSize)
	if err != nil {
		return nil, err
	}

	key := objectKey(req)
	hash := hashOf(data)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(req.ContentType),
		Metadata: map[string]string{
			"owner-id":  req.OwnerID,
			"file-name": req.FileName,
			"kind":      string(req.Kind),
			"sha256":    hash,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("s3 put %s: %w", key, err)
	}

	return &Asset{
		Key:         key,
		URL:         s.baseURL + "/" + key,
		Kind:        req.Kind,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Size:        int64(len(data)),
		Hash:        hash,
		OwnerID:     req.OwnerID,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, *Asset, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("s3 get %s: %w", key, err)
	}

	asset := &Asset{
		Key:         key,
		URL:         s.baseURL + "/" + key,
		Kind:        Kind(out.Metadata["kind"]),
		FileName:    out.Metadata["file-name"],
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
		Hash:        out.Metadata["sha256"],
		OwnerID:     out.Metadata["owner-id"],
	}
	if out.LastModified != nil {
		asset.CreatedAt = *out.LastModified
	}
	return out.Body, asset, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}
