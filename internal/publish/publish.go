// Package publish copies finished downloads to remote object storage.
package publish

//go:generate mockgen -source=publish.go -destination=mocks/publisher_mock.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/huaweicloud/huaweicloud-sdk-go-obs/obs"
	"github.com/rs/zerolog/log"
)

// Publisher uploads a local file somewhere durable and returns its object key.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
	Close()
}

// Nop is used when no remote storage is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string) (string, error) { return "", nil }
func (Nop) Close()                                          {}

type OBSConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// Enabled reports whether enough is configured to build an OBS publisher.
func (c OBSConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// OBS uploads to a Huawei Cloud OBS bucket.
type OBS struct {
	client *obs.ObsClient
	bucket string
	prefix string
}

func NewOBS(cfg OBSConfig) (*OBS, error) {
	if !cfg.Enabled() {
		return nil, errors.New("obs: endpoint, bucket and credentials are required")
	}
	client, err := obs.New(cfg.AccessKey, cfg.SecretKey, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("obs client: %w", err)
	}
	return &OBS{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// New returns an OBS publisher when configured, Nop otherwise.
func New(cfg OBSConfig) (Publisher, error) { //nolint:ireturn
	if !cfg.Enabled() {
		return Nop{}, nil
	}
	p, err := NewOBS(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ObjectKey is prefix/basename, using forward slashes.
func (o *OBS) ObjectKey(localPath string) string {
	base := filepath.Base(localPath)
	if o.prefix == "" {
		return base
	}
	return path.Join(o.prefix, base)
}

func (o *OBS) Publish(ctx context.Context, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err //nolint:wrapcheck
	}
	input := &obs.PutFileInput{}
	input.Bucket = o.bucket
	input.Key = o.ObjectKey(localPath)
	input.SourceFile = localPath

	output, err := o.client.PutFile(input)
	if err != nil {
		var obsErr obs.ObsError
		if errors.As(err, &obsErr) {
			return "", fmt.Errorf("obs put %s: %s: %s", input.Key, obsErr.Code, obsErr.Message)
		}
		return "", fmt.Errorf("obs put %s: %w", input.Key, err)
	}
	log.Info().Str("bucket", o.bucket).Str("key", input.Key).Str("etag", output.ETag).Msg("published download")
	return input.Key, nil
}

func (o *OBS) Close() {
	if o.client != nil {
		o.client.Close()
	}
}
