package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/careers-ingest/internal/gateway"
	"github.com/JakeFAU/careers-ingest/internal/listing"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := New(Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store, mr, client
}

func TestMembership(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr, _ := newTestStore(t)
	require.NoError(t, store.Ping(ctx))

	ok, err := store.Contains(ctx, "seen", "abc")
	require.NoError(t, err)
	require.False(t, ok)

	added, err := store.Add(ctx, "seen", "abc")
	require.NoError(t, err)
	require.True(t, added)

	added, err = store.Add(ctx, "seen", "abc")
	require.NoError(t, err)
	require.False(t, added)

	ok, err = store.Contains(ctx, "seen", "abc")
	require.NoError(t, err)
	require.True(t, ok)

	members, err := mr.Members("seen")
	require.NoError(t, err)
	require.Equal(t, []string{"abc"}, members)
}

func TestAppendPreservesFieldOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, client := newTestStore(t)
	rec := listing.Record{
		ExternalID: "1",
		Title:      "Engineer",
		DatePosted: "2024-01-05",
		Company:    "Microsoft",
		Content:    "Body",
	}

	id, err := store.Append(ctx, "jobs", rec.Fields())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs, err := client.XRange(ctx, "jobs", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, id, msgs[0].ID)
	require.Equal(t, rec.Fields().Map(), stringValues(msgs[0].Values))
}

func TestCreateGroupFromNow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, client := newTestStore(t)

	_, err := store.Append(ctx, "jobs", listing.Fields{{Name: listing.FieldJobID, Value: "old"}})
	require.NoError(t, err)

	res, err := store.CreateGroup(ctx, "jobs", "workers", true, true)
	require.NoError(t, err)
	require.Equal(t, gateway.GroupCreated, res)

	res, err = store.CreateGroup(ctx, "jobs", "workers", true, true)
	require.NoError(t, err)
	require.Equal(t, gateway.GroupExists, res)

	_, err = store.Append(ctx, "jobs", listing.Fields{{Name: listing.FieldJobID, Value: "new"}})
	require.NoError(t, err)

	streams, err := client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    "workers",
		Consumer: "c1",
		Streams:  []string{"jobs", ">"},
		Count:    10,
		Block:    -1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Messages, 1)
	require.Equal(t, "new", streams[0].Messages[0].Values[listing.FieldJobID])
}

func TestCreateGroupCreatesStream(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr, _ := newTestStore(t)

	_, err := store.CreateGroup(ctx, "missing", "workers", true, false)
	require.Error(t, err)

	res, err := store.CreateGroup(ctx, "jobs", "workers", true, true)
	require.NoError(t, err)
	require.Equal(t, gateway.GroupCreated, res)
	require.True(t, mr.Exists("jobs"))
}

func TestClosedServerIsUnavailable(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	store, err := New(Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	mr.Close()

	_, err = store.Contains(context.Background(), "seen", "abc")
	require.ErrorIs(t, err, gateway.ErrUnavailable)
}

func stringValues(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k], _ = v.(string)
	}
	return out
}
