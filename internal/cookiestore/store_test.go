// File: internal/cookiestore/store_test.go
package cookiestore

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gocloud.dev/blob/memblob"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	return New(bucket, zap.NewNop())
}

func TestLoadDecodesExportFormat(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	raw := []byte(`[
		{"name":"d","value":"xoxd-abc","domain":".slack.com","path":"/","secure":true,"httpOnly":true,"sameSite":"lax","expirationDate":1790000123.789},
		{"name":"b","value":"short","domain":".slack.com","path":"/","secure":true,"httpOnly":false,"sameSite":"no_restriction","session":true}
	]`)
	require.NoError(t, store.bucket.WriteAll(ctx, "cookies.json", raw, nil))

	records, err := store.Load(ctx, "cookies.json")
	require.NoError(t, err)
	require.Len(t, records, 2)

	exp := 1790000123.789
	want := []Record{
		{Name: "d", Value: "xoxd-abc", Domain: ".slack.com", Path: "/", Secure: true, HTTPOnly: true, SameSite: "lax", ExpirationDate: &exp},
		{Name: "b", Value: "short", Domain: ".slack.com", Path: "/", Secure: true, SameSite: "no_restriction", Session: true},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("decoded records mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingKey(t *testing.T) {
	store := newMemStore(t)

	_, err := store.Load(context.Background(), "absent.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.json")
}

func TestSameSiteMapping(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"strict", "Strict"},
		{"lax", "Lax"},
		{"no_restriction", "None"},
		{"unspecified", "Lax"},
		{"", "Lax"},
		{"garbage", "Lax"},
	}
	for _, tc := range cases {
		got := Record{SameSite: tc.in}.NormalizedSameSite()
		assert.Equal(t, tc.want, got, "sameSite %q", tc.in)
	}
}

func TestExpiresEpochFloorsFractionalSeconds(t *testing.T) {
	exp := 1790000123.789
	epoch, ok := Record{ExpirationDate: &exp}.ExpiresEpoch()
	require.True(t, ok)
	assert.Equal(t, int64(1790000123), epoch)

	_, ok = Record{}.ExpiresEpoch()
	assert.False(t, ok, "session cookie must report no expiry")
}

func TestSaveRoundTrip(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	exp := 1800000000.0
	in := []Record{
		{Name: "d", Value: "v", Domain: ".slack.com", Path: "/", Secure: true, HTTPOnly: true, SameSite: "lax", ExpirationDate: &exp},
	}
	require.NoError(t, store.Save(ctx, "out.json", in))

	out, err := store.Load(ctx, "out.json")
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
