package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/cgeo/cgeofiles/internal/folders"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3API is the subset of *s3.Client the backend uses.
type S3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3Config struct {
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds a client for an S3-compatible endpoint (MinIO etc.).
func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKey,
			c.SecretKey,
			"",
		)))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
		}
		o.UsePathStyle = c.UsePathStyle
	})

	return client, nil
}

// S3Backend stores content as objects. Names are reserved with a conditional
// PutObject so two writers never get the same key.
type S3Backend struct {
	client S3API
	tmpDir string
}

// NewS3Backend returns a backend over client. Pending writes spool to files
// in tmpDir ("" means os.TempDir).
func NewS3Backend(client S3API, tmpDir string) *S3Backend {
	return &S3Backend{client: client, tmpDir: tmpDir}
}

func objectKey(loc folders.Location, name string) string {
	if p := loc.Prefix(); p != "" {
		return path.Join(p, name)
	}
	return name
}

func (b *S3Backend) Usable(ctx context.Context, loc folders.Location) bool {
	if loc.Kind != folders.KindS3 || loc.Bucket() == "" {
		return false
	}
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(loc.Bucket())})
	return err == nil
}

func (b *S3Backend) Create(ctx context.Context, loc folders.Location, name string) (Ref, error) {
	if loc.Kind != folders.KindS3 {
		return Ref{}, fmt.Errorf("%s: %w", loc.Kind, ErrUnsupportedKind)
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		candidate := candidateName(name, attempt)
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(loc.Bucket()),
			Key:         aws.String(objectKey(loc, candidate)),
			Body:        bytes.NewReader(nil),
			IfNoneMatch: aws.String("*"),
		})
		if isPreconditionFailed(err) {
			continue
		}
		if err != nil {
			return Ref{}, fmt.Errorf("reserve %s: %w", candidate, err)
		}
		return Ref{Location: loc, Name: candidate}, nil
	}

	return Ref{}, fmt.Errorf("%s in %s: %w", name, loc, ErrNameExhausted)
}

func (b *S3Backend) OpenForWrite(ctx context.Context, ref Ref) (io.WriteCloser, error) {
	if ref.Location.Kind != folders.KindS3 {
		return nil, fmt.Errorf("%s: %w", ref.Location.Kind, ErrUnsupportedKind)
	}
	tmp, err := os.CreateTemp(b.tmpDir, "cgeofiles-s3-*")
	if err != nil {
		return nil, fmt.Errorf("spool file: %w", err)
	}
	return &s3Writer{ctx: ctx, client: b.client, ref: ref, tmp: tmp}, nil
}

func (b *S3Backend) Open(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Location.Bucket()),
		Key:    aws.String(objectKey(ref.Location, ref.Name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", ref, os.ErrNotExist)
		}
		return nil, err
	}
	return out.Body, nil
}

func (b *S3Backend) Delete(ctx context.Context, ref Ref) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(ref.Location.Bucket()),
		Key:    aws.String(objectKey(ref.Location, ref.Name)),
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, ref Ref) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(ref.Location.Bucket()),
		Key:    aws.String(objectKey(ref.Location, ref.Name)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (b *S3Backend) List(ctx context.Context, loc folders.Location) ([]Entry, error) {
	prefix := loc.Prefix()
	if prefix != "" {
		prefix += "/"
	}

	var out []Entry
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(loc.Bucket()),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			out = append(out, Entry{
				Ref:     Ref{Location: loc, Name: name},
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

type s3Writer struct {
	ctx    context.Context
	client S3API
	ref    Ref
	tmp    *os.File
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

// Close uploads the spooled content and removes the spool file.
func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer os.Remove(w.tmp.Name())
	defer w.tmp.Close()

	size, err := w.tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := w.tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	_, err = w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.ref.Location.Bucket()),
		Key:           aws.String(objectKey(w.ref.Location, w.ref.Name)),
		Body:          w.tmp,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", w.ref, err)
	}
	return nil
}

// Abort removes the spool file without uploading it. The reserved empty
// object stays until the caller deletes the ref.
func (w *s3Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.tmp.Close()
	if rerr := os.Remove(w.tmp.Name()); err == nil {
		err = rerr
	}
	return err
}

func isPreconditionFailed(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
