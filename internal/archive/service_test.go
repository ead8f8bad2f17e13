package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aristath/derivscript/internal/pricing"
	"github.com/aristath/derivscript/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory double for Client, letting the rotation and
// listing logic be tested without a real bucket.
type fakeClient struct {
	objects map[string][]byte
}

func newFakeClient() *fakeClient { return &fakeClient{objects: map[string][]byte{}} }

func (c *fakeClient) Upload(_ context.Context, key string, body io.Reader, _ int64) error {
	buf, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	c.objects[key] = buf
	return nil
}

func (c *fakeClient) List(_ context.Context, prefix string) ([]Object, error) {
	var out []Object
	for key, data := range c.objects {
		if len(prefix) > 0 && (len(key) < len(prefix) || key[:len(prefix)] != prefix) {
			continue
		}
		out = append(out, Object{Key: key, Size: int64(len(data))})
	}
	return out, nil
}

func (c *fakeClient) Delete(_ context.Context, key string) error {
	if _, ok := c.objects[key]; !ok {
		return fmt.Errorf("no such object %q", key)
	}
	delete(c.objects, key)
	return nil
}

func testStoreWithRuns(t *testing.T, n int) (*store.Store, []string) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)

	req := pricing.Request{
		MarketData: pricing.MarketData{
			ReferenceDate: "2024-01-01",
			LocalCurrency: "CLP",
			Fx:            []pricing.FxQuote{{Weak: "USD", Strong: "CLP", Value: 900}},
			Curves:        []pricing.CurveInput{{Name: "CLP", Currency: "CLP", Rate: 0}},
		},
		ScriptData: pricing.ScriptData{
			Events: []pricing.ScriptEvent{{Date: "2024-01-01", Script: `opt = 0;`}},
		},
	}

	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id, err := st.SaveRun(context.Background(), req, &pricing.Response{Variables: map[string]any{"opt": float64(i)}})
		require.NoError(t, err)
		ids[i] = id
	}
	return st, ids
}

func TestObjectKeyRoundTripsThroughParseObjectKey(t *testing.T) {
	ts := time.Date(2026, 1, 8, 14, 30, 22, 0, time.UTC)
	key := objectKey("run-123", ts)

	gotTS, gotID, ok := parseObjectKey(key)
	require.True(t, ok)
	assert.Equal(t, "run-123", gotID)
	assert.True(t, ts.Equal(gotTS))
}

func TestParseObjectKeyRejectsUnrecognizedKeys(t *testing.T) {
	_, _, ok := parseObjectKey("some-other-object.bin")
	assert.False(t, ok)
}

func TestArchiveRunUploadsCompressedBlob(t *testing.T) {
	st, ids := testStoreWithRuns(t, 1)
	client := newFakeClient()
	svc := New(client, st, zerolog.Nop())

	require.NoError(t, svc.ArchiveRun(context.Background(), ids[0]))
	assert.Len(t, client.objects, 1)

	for _, data := range client.objects {
		assert.NotEmpty(t, data)
		assert.True(t, bytes.HasPrefix(data, []byte{0x1f, 0x8b}), "blob must carry the gzip header")
	}
}

func TestListArchivesOrdersNewestFirst(t *testing.T) {
	st, ids := testStoreWithRuns(t, 3)
	client := newFakeClient()
	svc := New(client, st, zerolog.Nop())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		require.NoError(t, client.Upload(context.Background(), objectKey(id, base.AddDate(0, 0, i)), bytes.NewReader([]byte("x")), 1))
	}

	records, err := svc.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].Timestamp.After(records[1].Timestamp))
	assert.True(t, records[1].Timestamp.After(records[2].Timestamp))
}

func TestRotateOldArchivesKeepsMinimumThree(t *testing.T) {
	st, ids := testStoreWithRuns(t, 3)
	client := newFakeClient()
	svc := New(client, st, zerolog.Nop())

	old := time.Now().AddDate(0, 0, -100)
	for _, id := range ids {
		require.NoError(t, client.Upload(context.Background(), objectKey(id, old), bytes.NewReader([]byte("x")), 1))
	}

	require.NoError(t, svc.RotateOldArchives(context.Background(), 30))
	assert.Len(t, client.objects, 3)
}

func TestRotateOldArchivesDeletesBeyondRetention(t *testing.T) {
	st, ids := testStoreWithRuns(t, 5)
	client := newFakeClient()
	svc := New(client, st, zerolog.Nop())

	now := time.Now()
	for i, id := range ids {
		ts := now.AddDate(0, 0, -i*40) // 0, 40, 80, 120, 160 days old
		require.NoError(t, client.Upload(context.Background(), objectKey(id, ts), bytes.NewReader([]byte("x")), 1))
	}

	require.NoError(t, svc.RotateOldArchives(context.Background(), 30))
	// The 3 newest (0, 40, 80 days) are always kept regardless of age; of
	// the remaining two (120, 160 days) both exceed the 30-day cutoff.
	assert.Len(t, client.objects, 3)
}

func TestRotateOldArchivesDisabledWhenRetentionZero(t *testing.T) {
	st, ids := testStoreWithRuns(t, 5)
	client := newFakeClient()
	svc := New(client, st, zerolog.Nop())

	now := time.Now()
	for i, id := range ids {
		ts := now.AddDate(0, 0, -i*100)
		require.NoError(t, client.Upload(context.Background(), objectKey(id, ts), bytes.NewReader([]byte("x")), 1))
	}

	require.NoError(t, svc.RotateOldArchives(context.Background(), 0))
	assert.Len(t, client.objects, 5)
}
