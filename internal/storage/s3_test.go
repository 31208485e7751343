package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockS3API struct {
	mock.Mock
}

func (m *MockS3API) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

func (m *MockS3API) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.PutObjectOutput)
	return out, args.Error(1)
}

func (m *MockS3API) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.UploadPartOutput)
	return out, args.Error(1)
}

func (m *MockS3API) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.CreateMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *MockS3API) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.CompleteMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *MockS3API) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.AbortMultipartUploadOutput)
	return out, args.Error(1)
}

func (m *MockS3API) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*s3.ListObjectsV2Output)
	return out, args.Error(1)
}

func offlinePresignStore() *Store {
	client := s3.NewFromConfig(aws.Config{
		Region:      "ap-south-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
	})
	return New(client, s3.NewPresignClient(client))
}

func TestPresignPut(t *testing.T) {
	store := offlinePresignStore()

	req, err := store.PresignPut(context.Background(), "resumes-bucket", "uploads/resume123.pdf", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "PUT", req.Method)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	signed, err := time.Parse(amzDateLayout, u.Query().Get("X-Amz-Date"))
	require.NoError(t, err)
	assert.Equal(t, signed.Add(time.Hour), req.ExpiresAt)
	assert.Contains(t, u.Host, "resumes-bucket")
	assert.Equal(t, "/uploads/resume123.pdf", u.Path)

	q := u.Query()
	assert.Equal(t, "3600", q.Get("X-Amz-Expires"))
	assert.Equal(t, "AWS4-HMAC-SHA256", q.Get("X-Amz-Algorithm"))
	assert.NotEmpty(t, q.Get("X-Amz-Signature"))
}

func TestPresignPutSignatureIsKeyScoped(t *testing.T) {
	store := offlinePresignStore()
	ctx := context.Background()

	a, err := store.PresignPut(ctx, "resumes-bucket", "uploads/a.pdf", time.Hour)
	require.NoError(t, err)
	b, err := store.PresignPut(ctx, "resumes-bucket", "uploads/b.pdf", time.Hour)
	require.NoError(t, err)

	ua, _ := url.Parse(a.URL)
	ub, _ := url.Parse(b.URL)
	assert.NotEqual(t, ua.Query().Get("X-Amz-Signature"), ub.Query().Get("X-Amz-Signature"))
}

func TestSignedAt(t *testing.T) {
	fallback := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 16, 9, 30, 5, 0, time.UTC),
		signedAt("https://b.s3.amazonaws.com/k?X-Amz-Date=20261016T093005Z", fallback))
	assert.Equal(t, fallback, signedAt("https://b.s3.amazonaws.com/k", fallback))
	assert.Equal(t, fallback, signedAt("://bad", fallback))
}

func TestPresignPutWithoutPresigner(t *testing.T) {
	store := New(new(MockS3API), nil)
	_, err := store.PresignPut(context.Background(), "b", "k", time.Minute)
	require.Error(t, err)
}

func TestDownload(t *testing.T) {
	ref := ObjectRef{Bucket: "resumes-bucket", Key: "uploads/cv.txt", Size: 11}

	t.Run("Reads object", func(t *testing.T) {
		api := new(MockS3API)
		api.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
			return aws.ToString(in.Bucket) == "resumes-bucket" && aws.ToString(in.Key) == "uploads/cv.txt"
		})).Return(&s3.GetObjectOutput{
			Body:          io.NopCloser(bytes.NewReader([]byte("hello world"))),
			ContentLength: aws.Int64(11),
		}, nil)

		data, err := New(api, nil).Download(context.Background(), ref, 1024)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
	})

	t.Run("Rejects oversize before download", func(t *testing.T) {
		api := new(MockS3API)
		_, err := New(api, nil).Download(context.Background(), ref, 5)
		require.ErrorIs(t, err, ErrObjectTooLarge)
		api.AssertNotCalled(t, "GetObject", mock.Anything, mock.Anything)
	})

	t.Run("Missing object", func(t *testing.T) {
		api := new(MockS3API)
		api.On("GetObject", mock.Anything, mock.Anything).Return(nil, &s3types.NoSuchKey{})

		_, err := New(api, nil).Download(context.Background(), ref, 1024)
		require.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("Transient failure", func(t *testing.T) {
		api := new(MockS3API)
		api.On("GetObject", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

		_, err := New(api, nil).Download(context.Background(), ref, 1024)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrObjectNotFound)
	})
}

func TestList(t *testing.T) {
	api := new(MockS3API)
	api.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return in.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		Contents: []s3types.Object{
			{Key: aws.String("uploads/"), Size: aws.Int64(0)},
			{Key: aws.String("uploads/a.pdf"), ETag: aws.String(`"abc"`), Size: aws.Int64(10)},
		},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("next"),
	}, nil).Once()
	api.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "next"
	})).Return(&s3.ListObjectsV2Output{
		Contents:    []s3types.Object{{Key: aws.String("uploads/b.txt"), Size: aws.Int64(3)}},
		IsTruncated: aws.Bool(false),
	}, nil).Once()

	refs, err := New(api, nil).List(context.Background(), "resumes-bucket", "uploads/")
	require.NoError(t, err)
	assert.Equal(t, []ObjectRef{
		{Bucket: "resumes-bucket", Key: "uploads/a.pdf", ETag: "abc", Size: 10},
		{Bucket: "resumes-bucket", Key: "uploads/b.txt", Size: 3},
	}, refs)
	api.AssertExpectations(t)
}

func TestPut(t *testing.T) {
	api := new(MockS3API)
	api.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "analytics" &&
			aws.ToString(in.Key) == "parsed_resumes/dt=2026-10-16/part-1.parquet" &&
			aws.ToString(in.ContentType) == "application/octet-stream"
	})).Return(&s3.PutObjectOutput{}, nil)

	err := New(api, nil).Put(context.Background(), "analytics", "parsed_resumes/dt=2026-10-16/part-1.parquet", "application/octet-stream", []byte("PAR1"))
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestParseS3URL(t *testing.T) {
	bucket, prefix, err := ParseS3URL("s3://resumes-bucket/uploads/2026/")
	require.NoError(t, err)
	assert.Equal(t, "resumes-bucket", bucket)
	assert.Equal(t, "uploads/2026/", prefix)

	bucket, prefix, err = ParseS3URL("s3://resumes-bucket")
	require.NoError(t, err)
	assert.Equal(t, "resumes-bucket", bucket)
	assert.Empty(t, prefix)

	for _, bad := range []string{"resumes-bucket/uploads", "s3:///uploads", "https://resumes-bucket/x"} {
		_, _, err := ParseS3URL(bad)
		assert.Error(t, err, bad)
	}
}
