package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/internal/imaging"
	"github.com/librimoms/club-bot/pkg/config"
)

type fakePutter struct {
	in  *s3.PutObjectInput
	err error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func fixedNow() time.Time {
	return time.Date(2024, time.March, 7, 10, 0, 0, 0, time.UTC)
}

func TestCoverKey_Layout(t *testing.T) {
	key := CoverKey(fixedNow())
	assert.Regexp(t, regexp.MustCompile(`^covers/2024/03/07/[0-9a-f-]{36}\.jpg$`), key)
}

func TestS3_StoreReturnsPublicURL(t *testing.T) {
	putter := &fakePutter{}
	store := &S3{client: putter, bucket: "covers", publicBase: "https://cdn.example.com", now: fixedNow}
	store.log = testLogger()

	url, err := store.Store(context.Background(), &imaging.Cover{Data: []byte("jpeg")})
	require.NoError(t, err)

	require.NotNil(t, putter.in)
	assert.Equal(t, "covers", *putter.in.Bucket)
	assert.Equal(t, "image/jpeg", *putter.in.ContentType)
	assert.Equal(t, "https://cdn.example.com/"+*putter.in.Key, url)
}

func TestFallback_InlinesOnUploadError(t *testing.T) {
	store := &S3{client: &fakePutter{err: errors.New("denied")}, bucket: "covers", now: fixedNow, log: testLogger()}

	url, err := Fallback{Primary: store, Log: testLogger()}.Store(context.Background(), &imaging.Cover{Data: []byte{1}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
}

func TestNew_DisabledIsInline(t *testing.T) {
	store, err := New(context.Background(), config.StorageConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Inline{}, store)
}

func TestNewS3_PutsToEndpoint(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := NewS3(context.Background(), config.StorageConfig{
		Enabled:       true,
		Endpoint:      srv.URL,
		Bucket:        "covers",
		AccessKey:     "minio",
		SecretKey:     "minio123",
		PublicBaseURL: "https://cdn.example.com/",
	}, testLogger())
	require.NoError(t, err)

	url, err := store.Store(context.Background(), &imaging.Cover{Data: []byte("jpeg-bytes")})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(path, "/covers/covers/"))
	assert.Contains(t, string(body), "jpeg-bytes")
	assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/covers/"))
}
