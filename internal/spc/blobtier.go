package spc

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"facecache/internal/cacheerrors"
)

// BlobTier is the SPC's durable tier, the source of truth behind the fast
// kv tier (§4.4.2 step 1, step 3 "warm-up"). Grounded on the aws-sdk-go S3
// client usage in the aistore cloud provider (ais/cloud/aws.go), adapted
// from its object-store semantics to keyed PNG/WebP artifacts.
type BlobTier struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewBlobTier builds a BlobTier against bucket using sess, optionally
// rooted under prefix (e.g. "replicated-faces/").
func NewBlobTier(sess *session.Session, bucket, prefix string) *BlobTier {
	return &BlobTier{client: s3.New(sess), bucket: bucket, prefix: prefix}
}

func (t *BlobTier) objectKey(path string) string {
	if t.prefix == "" {
		return path
	}
	return t.prefix + path
}

// Lookup lists objects by prefix equal to path, returning the first match's
// public URL (§4.4.2 step 2: "durable blob listing by prefix equal to
// CachePath, returns zero or one blob"). The prefix form tolerates the
// caller not knowing the extension a prior persist chose.
func (t *BlobTier) Lookup(ctx context.Context, path string) (url string, ok bool, err error) {
	prefix := t.objectKey(path)
	out, err := t.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(t.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return "", false, cacheerrors.Wrap(cacheerrors.KindStorageFailure, err)
	}
	if len(out.Contents) == 0 {
		return "", false, nil
	}
	return t.publicURL(aws.StringValue(out.Contents[0].Key)), true, nil
}

// Put uploads body as <path>.<ext> with a public-read ACL and returns its
// public URL (§4.4.4 "its bytes are written to the blob tier at
// <CachePath>.<ext> with public read access").
func (t *BlobTier) Put(ctx context.Context, path, ext string, body []byte, contentType string) (string, error) {
	key := t.objectKey(path) + "." + ext
	_, err := t.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(t.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ACL:         aws.String(s3.ObjectCannedACLPublicRead),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", cacheerrors.Wrap(cacheerrors.KindStorageFailure, err)
	}
	return t.publicURL(key), nil
}

func (t *BlobTier) publicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", t.bucket, key)
}
