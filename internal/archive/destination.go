package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Destination receives one JSONL archive per sweep.
type Destination interface {
	Name() string
	Write(ctx context.Context, at time.Time, data []byte) error
}

// S3Destination stores every sweep as a separate object whose key is the
// configured key stamped with the sweep time:
// "beacon/archive.jsonl" becomes "beacon/archive-20261018T030000Z.jsonl".
type S3Destination struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Destination builds a client from the default AWS credential chain.
// A custom endpoint (MinIO, localstack) switches to path-style addressing.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("archive: aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint == "" {
			return
		}
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &S3Destination{client: client, bucket: bucket, key: key}, nil
}

func (d *S3Destination) Name() string { return "s3://" + d.bucket }

// ObjectKey is the key an archive taken at t is stored under.
func (d *S3Destination) ObjectKey(t time.Time) string { return datedName(d.key, t) }

func (d *S3Destination) Write(ctx context.Context, at time.Time, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.ObjectKey(at)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	}
	if _, err := d.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("archive: put s3://%s/%s: %w", d.bucket, *in.Key, err)
	}
	return nil
}

// GitDestination replaces one file in a local clone on every sweep and
// pushes the commit, so older archives remain in the branch history.
type GitDestination struct {
	repo   string
	file   string
	branch string
}

// NewGitDestination writes file inside the existing clone at repo and
// pushes to branch on origin.
func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{repo: repo, file: file, branch: branch}
}

func (d *GitDestination) Name() string { return "git:" + filepath.Join(d.repo, d.file) }

func (d *GitDestination) Write(ctx context.Context, at time.Time, data []byte) error {
	if _, err := d.git(ctx, "checkout", d.branch); err != nil {
		return err
	}
	// Fails harmlessly when origin has no such branch yet.
	_, _ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	target := filepath.Join(d.repo, d.file)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if _, err := d.git(ctx, "add", d.file); err != nil {
		return err
	}

	// Exit status 1 means the index differs from HEAD.
	_, err := d.git(ctx, "diff", "--cached", "--quiet")
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return nil
	case !errors.As(err, &exitErr) || exitErr.ExitCode() != 1:
		return err
	}

	msg := fmt.Sprintf("archive: events purged at %s", at.UTC().Format(time.RFC3339))
	if _, err := d.git(ctx, "commit", "-m", msg); err != nil {
		return err
	}
	_, err = d.git(ctx, "push", "origin", d.branch)
	return err
}

// git runs a git subcommand in the clone and returns its combined output.
// Failures carry that output in the error.
func (d *GitDestination) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("archive: git %s: %w: %s", args[0], err, bytes.TrimSpace(out))
	}
	return string(out), nil
}

// datedName inserts a UTC timestamp before the extension of name.
func datedName(name string, t time.Time) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + t.UTC().Format("20060102T150405Z") + ext
}
