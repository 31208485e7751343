package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var (
	ErrObjectTooLarge = errors.New("object exceeds size limit")
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectRef identifies one stored object. ETag is empty when unknown.
type ObjectRef struct {
	Bucket string
	Key    string
	ETag   string
	Size   int64
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("s3://%s/%s", r.Bucket, r.Key)
}

type S3API interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
}

type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type PresignedRequest struct {
	URL       string
	Method    string
	Header    http.Header
	ExpiresAt time.Time
}

type Store struct {
	api        S3API
	presigner  Presigner
	downloader *manager.Downloader
	uploader   *manager.Uploader
	now        func() time.Time
}

func NewFromConfig(cfg aws.Config) *Store {
	client := s3.NewFromConfig(cfg)
	return New(client, s3.NewPresignClient(client))
}

func New(api S3API, presigner Presigner) *Store {
	return &Store{
		api:        api,
		presigner:  presigner,
		downloader: manager.NewDownloader(api),
		uploader:   manager.NewUploader(api),
		now:        time.Now,
	}
}

// PresignPut mints a URL that allows a single object PUT to bucket/key until expiry.
func (s *Store) PresignPut(ctx context.Context, bucket, key string, expiry time.Duration) (*PresignedRequest, error) {
	if s.presigner == nil {
		return nil, fmt.Errorf("presign put: no presigner configured")
	}
	issuedAt := s.now().UTC()
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, fmt.Errorf("presign put s3://%s/%s: %w", bucket, key, err)
	}
	return &PresignedRequest{
		URL:       req.URL,
		Method:    req.Method,
		Header:    req.SignedHeader,
		ExpiresAt: signedAt(req.URL, issuedAt).Add(expiry),
	}, nil
}

const amzDateLayout = "20060102T150405Z"

// signedAt reads X-Amz-Date from a presigned URL, the instant the expiry window
// starts from. fallback is returned when the URL carries none.
func signedAt(rawURL string, fallback time.Time) time.Time {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	t, err := time.Parse(amzDateLayout, u.Query().Get("X-Amz-Date"))
	if err != nil {
		return fallback
	}
	return t
}

// Download reads the whole object into memory, refusing objects over maxBytes.
func (s *Store) Download(ctx context.Context, ref ObjectRef, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 && ref.Size > maxBytes {
		return nil, fmt.Errorf("%s is %d bytes: %w", ref, ref.Size, ErrObjectTooLarge)
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	}

	buf := manager.NewWriteAtBuffer(make([]byte, 0, max(ref.Size, 0)))
	n, err := s.downloader.Download(ctx, buf, in)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", ref, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", ref, err)
	}
	if maxBytes > 0 && n > maxBytes {
		return nil, fmt.Errorf("%s is %d bytes: %w", ref, n, ErrObjectTooLarge)
	}
	return buf.Bytes()[:n], nil
}

func (s *Store) Put(ctx context.Context, bucket, key, contentType string, body []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// List returns every object under prefix, following continuation tokens.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]ObjectRef, error) {
	var refs []ObjectRef
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			refs = append(refs, ObjectRef{
				Bucket: bucket,
				Key:    key,
				ETag:   strings.Trim(aws.ToString(obj.ETag), `"`),
				Size:   aws.ToInt64(obj.Size),
			})
		}
	}
	return refs, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}

// ParseS3URL splits s3://bucket/prefix. The prefix may be empty.
func ParseS3URL(url string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(url, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid S3 URL %q, missing 's3://' prefix", url)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid S3 URL %q, no bucket", url)
	}
	return bucket, prefix, nil
}
