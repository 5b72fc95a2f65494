package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hherb/bmlib/internal/publication"
)

func noopFetcher(name string) Fetcher {
	return FetcherFunc(func(ctx context.Context, day time.Time, sink RecordSink, progress ProgressSink) publication.FetchResult {
		return publication.Completed(name, day, 0)
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "pubmed", DisplayName: "PubMed"}, noopFetcher("pubmed"))
	r.Register(Descriptor{Name: "biorxiv"}, noopFetcher("biorxiv"))
	r.Register(Descriptor{Name: "pubmed", DisplayName: "PubMed v2"}, noopFetcher("pubmed"))

	assert.Equal(t, []string{"pubmed", "biorxiv"}, r.Names())
	assert.True(t, r.Has("biorxiv"))
	assert.False(t, r.Has("arxiv"))

	descs := r.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "PubMed v2", descs[0].DisplayName)

	f, desc, err := r.Get("biorxiv")
	require.NoError(t, err)
	assert.Equal(t, "biorxiv", desc.Name)
	res := f.Fetch(context.Background(), time.Now(), func(publication.Record) {}, nil)
	assert.Equal(t, publication.FetchCompleted, res.Status)

	_, _, err = r.Get("arxiv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestClient_Get(t *testing.T) {
	var gotQuery url.Values
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"n": 3}`))
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("slow down"))
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.Write([]byte("not json"))
		}
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL + "/"}, "https://unused.example", 1000)
	ctx := context.Background()

	var v struct{ N int }
	require.NoError(t, c.GetJSON(ctx, "/ok", url.Values{"api_key": {"secret"}}, &v))
	assert.Equal(t, 3, v.N)
	assert.Equal(t, "secret", gotQuery.Get("api_key"))
	assert.Equal(t, "bmlib-sync", gotUA)

	_, err := c.Get(ctx, "/limited", url.Values{"api_key": {"secret"}})
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.NotContains(t, err.Error(), "secret")
	assert.Contains(t, err.Error(), "slow down")

	_, err = c.Get(ctx, "/forbidden", nil)
	assert.True(t, IsAuthError(err))
	assert.False(t, IsRateLimited(err))

	err = c.GetJSON(ctx, "/garbage", nil, &v)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestClient_ContextCancelled(t *testing.T) {
	c := NewClient(Config{}, "http://127.0.0.1:1", 0.001)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "/", nil)
	assert.Error(t, err)
}

func TestReport_NilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		Report(nil, publication.Progress{Source: "x"})
	})

	var got []publication.Progress
	Report(func(p publication.Progress) { got = append(got, p) }, publication.Progress{Source: "x"})
	assert.Len(t, got, 1)
}
