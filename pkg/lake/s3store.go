// Copyright 2026 Metis Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lake

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/secrets"
)

// S3Store is an ObjectStore over an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ ObjectStore = (*S3Store)(nil)

// NewS3Store builds a store from the s3 configuration section.
// Credentials resolve from the config fields, then the secret oracle
// (which itself falls back to the environment). Instance-metadata
// discovery is never attempted: missing credentials fail fast.
func NewS3Store(ctx context.Context, cfg *config.S3Config, oracle secrets.Oracle) (*S3Store, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, metiserr.New(metiserr.KindConfiguration, "s3 storage requires a bucket")
	}

	accessKey := cfg.AccessKeyID
	if accessKey == "" {
		accessKey, _ = oracle.Lookup(ctx, "AWS_ACCESS_KEY_ID")
	}
	secretKey := cfg.SecretAccessKey
	if secretKey == "" {
		secretKey, _ = oracle.Lookup(ctx, "AWS_SECRET_ACCESS_KEY")
	}
	if accessKey == "" || secretKey == "" {
		return nil, metiserr.New(metiserr.KindAuthentication,
			"s3 credentials not found in config, secrets, or environment")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindConfiguration, err, "failed to build aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Put implements ObjectStore.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	decoded, err := decodeKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(decoded)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to put s3://%s/%s", s.bucket, decoded)
	}
	return nil
}

// Get implements ObjectStore.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	decoded, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(decoded)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, metiserr.New(metiserr.KindNotFound, "object %q not found", decoded)
		}
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to get s3://%s/%s", s.bucket, decoded)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to read s3://%s/%s", s.bucket, decoded)
	}
	return data, nil
}

// List implements ObjectStore. Keys are returned relative to the store
// prefix, URL-encoded.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	decoded, err := decodeKey(prefix)
	if err != nil {
		return nil, err
	}

	keys := []string{}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(decoded)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to list s3://%s/%s", s.bucket, decoded)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			keys = append(keys, encodeKey(key))
		}
	}
	return keys, nil
}

// Delete implements ObjectStore. Deleting a missing object is not an
// error; S3 deletes are idempotent.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	decoded, err := decodeKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(decoded)),
	})
	if err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to delete s3://%s/%s", s.bucket, decoded)
	}
	return nil
}

func (s *S3Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}
