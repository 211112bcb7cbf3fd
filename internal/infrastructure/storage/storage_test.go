package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

var ts = time.Date(2025, 12, 25, 10, 0, 0, 0, time.UTC)

func rows(n int, dt string) []domain.TrainingRow {
	out := make([]domain.TrainingRow, n)
	for i := range out {
		out[i] = domain.TrainingRow{
			ImpressionID: "imp",
			CustomerID:   1,
			ItemID:       int64(i + 1),
			Position:     i,
			Timestamp:    ts,
			DT:           dt,
			Actions: []domain.Action{
				{CustomerID: 1, ItemID: 99, Timestamp: ts.Add(-time.Minute), Type: domain.ActionCartAdd},
			},
		}
	}
	return out
}

type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	meta     map[string]map[string]string
	buckets  map[string]bool
	putErr   error
	failFrom int
	puts     int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, meta: map[string]map[string]string{}, buckets: map[string]bool{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putErr != nil && f.puts > f.failFrom {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = b
	f.meta[aws.ToString(in.Key)] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.buckets[aws.ToString(in.Bucket)] {
		return nil, errors.New("NotFound")
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.buckets[aws.ToString(in.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) keys() []string {
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestEncodeDecodeRows(t *testing.T) {
	in := rows(3, "2025-12-25")

	var buf bytes.Buffer
	require.NoError(t, EncodeRows(&buf, in))
	// framed snappy stream identifier
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\xff\x06\x00\x00sNaPpY")))

	out, err := DecodeRows(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRows_Corrupt(t *testing.T) {
	_, err := DecodeRows(bytes.NewReader([]byte("definitely not snappy")))
	assert.Error(t, err)
}

func TestChunks(t *testing.T) {
	assert.Len(t, chunks(nil, 10), 1)
	assert.Len(t, chunks(rows(10, "d"), 10), 1)

	c := chunks(rows(25, "d"), 10)
	require.Len(t, c, 3)
	assert.Len(t, c[2], 5)
	assert.Equal(t, int64(21), c[2][0].ItemID)
}

func TestS3Sink_WritePartitions(t *testing.T) {
	api := newFakeS3()
	sink := NewS3Sink(api, "datasets", "training", zerolog.Nop())
	sink.partRows = 2

	parts := []domain.Partition{
		{DT: "2025-12-25", Rows: rows(3, "2025-12-25")},
		{DT: "2025-12-26", Rows: rows(1, "2025-12-26")},
	}
	require.NoError(t, sink.WritePartitions(context.Background(), "run-1", parts))

	assert.Equal(t, []string{
		"training/dt=2025-12-25/run=run-1/_SUCCESS",
		"training/dt=2025-12-25/run=run-1/part-00000.jsonl.sz",
		"training/dt=2025-12-25/run=run-1/part-00001.jsonl.sz",
		"training/dt=2025-12-26/run=run-1/_SUCCESS",
		"training/dt=2025-12-26/run=run-1/part-00000.jsonl.sz",
	}, api.keys())

	got, err := DecodeRows(bytes.NewReader(api.objects["training/dt=2025-12-25/run=run-1/part-00001.jsonl.sz"]))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ItemID)
	assert.Equal(t, "3", api.meta["training/dt=2025-12-25/run=run-1/_SUCCESS"]["rows"])
}

func TestS3Sink_NoMarkerOnFailure(t *testing.T) {
	api := newFakeS3()
	api.putErr = errors.New("SlowDown")
	api.failFrom = 1
	sink := NewS3Sink(api, "datasets", "", zerolog.Nop())
	sink.partRows = 1

	err := sink.WritePartitions(context.Background(), "run-1", []domain.Partition{{DT: "2025-12-25", Rows: rows(2, "2025-12-25")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dt=2025-12-25/run=run-1/part-00001.jsonl.sz")
	assert.Equal(t, []string{"dt=2025-12-25/run=run-1/part-00000.jsonl.sz"}, api.keys())
}

func TestS3Sink_EnsureBucket(t *testing.T) {
	api := newFakeS3()
	sink := NewS3Sink(api, "datasets", "", zerolog.Nop())

	require.NoError(t, sink.EnsureBucket(context.Background()))
	assert.True(t, api.buckets["datasets"])
	require.NoError(t, sink.EnsureBucket(context.Background()))
	assert.Equal(t, "s3", sink.Name())
}

func TestFileSink_WritePartitions(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	parts := []domain.Partition{{DT: "2025-12-25", Rows: rows(4, "2025-12-25")}}
	require.NoError(t, sink.WritePartitions(context.Background(), "run-7", parts))

	base := filepath.Join(dir, "dt=2025-12-25", "run=run-7")
	assert.FileExists(t, filepath.Join(base, "_SUCCESS"))

	f, err := os.Open(filepath.Join(base, "part-00000.jsonl.sz"))
	require.NoError(t, err)
	defer f.Close()

	got, err := DecodeRows(f)
	require.NoError(t, err)
	assert.Equal(t, parts[0].Rows, got)
}

func TestFileSink_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewFileSink(t.TempDir()).WritePartitions(ctx, "r", []domain.Partition{{DT: "2025-12-25"}})
	assert.ErrorIs(t, err, context.Canceled)
}
