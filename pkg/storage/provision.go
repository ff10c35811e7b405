// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/cors"

	"github.com/fawa-io/roomdesign/pkg/fwlog"
)

// adminAPI is the bucket administration subset of *minio.Client.
type adminAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
	SetBucketCors(ctx context.Context, bucketName string, corsConfig *cors.Config) error
	EnableVersioning(ctx context.Context, bucketName string) error
}

var errNoAdmin = errors.New("storage: backend has no administrative client")

// ProvisionStep names one stage of Provision.
type ProvisionStep string

const (
	StepCreateBucket ProvisionStep = "create-bucket"
	StepPolicy       ProvisionStep = "public-read-policy"
	StepCORS         ProvisionStep = "cors"
	StepVersioning   ProvisionStep = "versioning"
)

// ProvisionReport records what Provision did.
type ProvisionReport struct {
	Bucket    string          `json:"bucket"`
	Created   bool            `json:"created"`
	Completed []ProvisionStep `json:"completed"`
}

type policyStatement struct {
	Sid       string `json:"Sid"`
	Effect    string `json:"Effect"`
	Principal string `json:"Principal"`
	Action    string `json:"Action"`
	Resource  string `json:"Resource"`
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

// PublicReadPolicy returns the bucket policy granting anonymous GetObject.
func PublicReadPolicy(bucket string) (string, error) {
	p := bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "PublicReadGetObject",
			Effect:    "Allow",
			Principal: "*",
			Action:    "s3:GetObject",
			Resource:  fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
		}},
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// PermissiveCORS allows browsers on any origin to read and write objects.
func PermissiveCORS() *cors.Config {
	return cors.NewConfig([]cors.Rule{{
		AllowedHeader: []string{"*"},
		AllowedMethod: []string{"GET", "PUT", "POST", "DELETE", "HEAD"},
		AllowedOrigin: []string{"*"},
		ExposeHeader:  []string{"ETag"},
		MaxAgeSeconds: 3000,
	}})
}

// Provision prepares the bucket for serving generated images: it creates
// the bucket when absent, applies the public-read policy, permissive CORS
// and versioning. It is an administrative operation and never runs on the
// request path. Every step is idempotent, so re-running is safe.
func (b *S3Backend) Provision(ctx context.Context) (*ProvisionReport, error) {
	if b.admin == nil {
		return nil, errNoAdmin
	}
	report := &ProvisionReport{Bucket: b.bucket}

	exists, err := b.admin.BucketExists(ctx, b.bucket)
	if err != nil {
		return report, fmt.Errorf("%w: check bucket %s: %w", ErrBackend, b.bucket, err)
	}
	if !exists {
		if err := b.admin.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: b.region}); err != nil {
			return report, fmt.Errorf("%w: create bucket %s: %w", ErrBackend, b.bucket, err)
		}
		report.Created = true
		fwlog.Infof("Bucket created: %s", b.bucket)
	} else {
		fwlog.Infof("Bucket already exists: %s", b.bucket)
	}
	report.Completed = append(report.Completed, StepCreateBucket)

	policy, err := PublicReadPolicy(b.bucket)
	if err != nil {
		return report, err
	}
	if err := b.admin.SetBucketPolicy(ctx, b.bucket, policy); err != nil {
		return report, fmt.Errorf("%w: set bucket policy: %w", ErrBackend, err)
	}
	report.Completed = append(report.Completed, StepPolicy)
	fwlog.Info("Bucket policy set to public read")

	if err := b.admin.SetBucketCors(ctx, b.bucket, PermissiveCORS()); err != nil {
		return report, fmt.Errorf("%w: set bucket cors: %w", ErrBackend, err)
	}
	report.Completed = append(report.Completed, StepCORS)
	fwlog.Info("CORS configured")

	if err := b.admin.EnableVersioning(ctx, b.bucket); err != nil {
		return report, fmt.Errorf("%w: enable versioning: %w", ErrBackend, err)
	}
	report.Completed = append(report.Completed, StepVersioning)
	fwlog.Info("Versioning enabled")

	return report, nil
}

// CheckConnection verifies that the credentials work and the bucket exists.
func (b *S3Backend) CheckConnection(ctx context.Context) error {
	if b.admin == nil {
		return errNoAdmin
	}
	exists, err := b.admin.BucketExists(ctx, b.bucket)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "AccessDenied" {
			return fmt.Errorf("%w: access denied to bucket '%s'", ErrBackend, b.bucket)
		}
		return fmt.Errorf("%w: connection error: %w", ErrBackend, err)
	}
	if !exists {
		return fmt.Errorf("%w: bucket '%s' does not exist", ErrNotFound, b.bucket)
	}
	fwlog.Infof("Successfully connected to bucket: %s", b.bucket)
	return nil
}
