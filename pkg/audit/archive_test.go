package audit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	put       *s3.PutObjectInput
	body      []byte
	putErr    error
	headErr   error
	createErr error
	created   bool
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.put = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = true
	return &s3.CreateBucketOutput{}, nil
}

func TestS3Archiver_Key(t *testing.T) {
	archiver := NewS3ArchiverWithClient(&fakeS3{}, "bucket", "audit")
	archiver.now = func() time.Time { return time.Unix(1700000000, 0) }

	cutoff := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "audit/2025/06/audit-before-20250601T030000Z-1700000000.ndjson", archiver.Key(cutoff))
}

func TestS3Archiver_Archive(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)

	t.Run("uploads with checksum", func(t *testing.T) {
		client := &fakeS3{}
		archiver := NewS3ArchiverWithClient(client, "bucket", "audit")

		key, err := archiver.Archive(ctx, cutoff, []byte("{\"id\":1}\n"))
		require.NoError(t, err)
		require.NotNil(t, client.put)

		assert.Equal(t, key, aws.ToString(client.put.Key))
		assert.Equal(t, "bucket", aws.ToString(client.put.Bucket))
		assert.Equal(t, "application/x-ndjson", aws.ToString(client.put.ContentType))
		assert.Len(t, client.put.Metadata["checksum-sha256"], 64)
		assert.Equal(t, "2025-06-01T03:00:00Z", client.put.Metadata["cutoff"])
		assert.Equal(t, "{\"id\":1}\n", string(client.body))
	})

	t.Run("upload error", func(t *testing.T) {
		archiver := NewS3ArchiverWithClient(&fakeS3{putErr: errors.New("access denied")}, "bucket", "")

		_, err := archiver.Archive(ctx, cutoff, []byte("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to upload archive to s3")
	})
}

func TestEnsureBucket(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		client      *fakeS3
		wantErr     bool
		wantCreated bool
	}{
		{name: "exists", client: &fakeS3{}},
		{name: "created", client: &fakeS3{headErr: errors.New("NotFound")}, wantCreated: true},
		{name: "owned race", client: &fakeS3{headErr: errors.New("NotFound"), createErr: &types.BucketAlreadyOwnedByYou{}}},
		{name: "create fails", client: &fakeS3{headErr: errors.New("NotFound"), createErr: errors.New("forbidden")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ensureBucket(ctx, tt.client, "bucket")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCreated, tt.client.created)
		})
	}
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), S3Config{})
	require.Error(t, err)
}
