package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStore struct {
	mu    sync.Mutex
	creds map[string]Credentials
	saved int32
}

func newFakeStore(initial Credentials) *fakeStore {
	return &fakeStore{creds: map[string]Credentials{initial.UserID: initial}}
}

func (f *fakeStore) LoadCredentials(ctx context.Context, userID string) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, ok := f.creds[userID]
	if !ok {
		return Credentials{}, ErrNotFound
	}
	return creds, nil
}

func (f *fakeStore) SaveTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.creds[userID]
	c.AccessToken = accessToken
	c.RefreshToken = refreshToken
	c.TokenExpiry = time.Unix(expiry, 0)
	f.creds[userID] = c
	atomic.AddInt32(&f.saved, 1)
	return nil
}

func (f *fakeStore) SaveAccountInfo(ctx context.Context, info AccountInfo) error { return nil }

func (f *fakeStore) SetConnectionStatus(ctx context.Context, status ConnectionStatus) error {
	return nil
}

func TestCacheGetReturnsCachedWhenFresh(t *testing.T) {
	initial := Credentials{
		UserID:       "u1",
		ClientID:     "c1",
		ClientSecret: "s1",
		AccessToken:  "fresh-token",
		RefreshToken: "r1",
		TokenExpiry:  time.Now().Add(1 * time.Hour),
	}
	store := newFakeStore(initial)
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"access_token":"should-not-be-used","expires_in":3600}`))
	}))
	defer server.Close()

	cache := NewCache(store, NewOAuthClient(server.URL), 60*time.Second)
	got, err := cache.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != "fresh-token" {
		t.Fatalf("expected cached token untouched, got %q", got.AccessToken)
	}
	if calls != 0 {
		t.Fatalf("expected no refresh calls, got %d", calls)
	}
}

func TestCacheRefreshIsCoalesced(t *testing.T) {
	initial := Credentials{
		UserID:       "u1",
		ClientID:     "c1",
		ClientSecret: "s1",
		AccessToken:  "expired-token",
		RefreshToken: "r1",
		TokenExpiry:  time.Now().Add(-1 * time.Minute),
	}
	store := newFakeStore(initial)

	var calls int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release // hold every concurrent caller here until we release them together
		w.Write([]byte(`{"access_token":"new-token","refresh_token":"r2","expires_in":3600}`))
	}))
	defer server.Close()

	cache := NewCache(store, NewOAuthClient(server.URL), 60*time.Second)

	const n = 10
	var wg sync.WaitGroup
	results := make([]Credentials, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background(), "u1")
		}(i)
	}

	// Give every goroutine time to reach the handler and block there before
	// releasing it, so the race on group.Do is actually exercised.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Get[%d]: %v", i, err)
		}
		if results[i].AccessToken != "new-token" {
			t.Fatalf("Get[%d]: expected new-token, got %q", i, results[i].AccessToken)
		}
	}
}

func TestCacheClearForcesReload(t *testing.T) {
	initial := Credentials{
		UserID:       "u1",
		AccessToken:  "fresh-token",
		RefreshToken: "r1",
		TokenExpiry:  time.Now().Add(1 * time.Hour),
	}
	store := newFakeStore(initial)
	cache := NewCache(store, NewOAuthClient("http://unused.invalid"), 60*time.Second)

	if _, err := cache.Get(context.Background(), "u1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	cache.Clear("u1")

	store.mu.Lock()
	c := store.creds["u1"]
	c.AccessToken = "updated-from-store"
	store.creds["u1"] = c
	store.mu.Unlock()

	got, err := cache.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get after clear: %v", err)
	}
	if got.AccessToken != "updated-from-store" {
		t.Fatalf("expected reload from store, got %q", got.AccessToken)
	}
}

func TestCacheValidate(t *testing.T) {
	initial := Credentials{
		UserID:       "u1",
		AccessToken:  "fresh-token",
		RefreshToken: "r1",
		TokenExpiry:  time.Now().Add(1 * time.Hour),
	}
	store := newFakeStore(initial)
	cache := NewCache(store, NewOAuthClient("http://unused.invalid"), 60*time.Second)

	if !cache.Validate(context.Background(), "u1") {
		t.Fatal("expected Validate to report true for a known user")
	}
	if cache.Validate(context.Background(), "ghost") {
		t.Fatal("expected Validate to report false for an unregistered user")
	}
}
