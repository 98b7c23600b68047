package state

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

// fakeUpstash implements the subset of the Upstash REST protocol the store uses.
type fakeUpstash struct {
	mu       sync.Mutex
	strings  map[string]string
	lists    map[string][]string
	zsets    map[string]map[string]float64
	commands [][]any
}

func newFakeUpstash(t *testing.T) (*fakeUpstash, *httptest.Server) {
	t.Helper()

	f := &fakeUpstash{
		strings: map[string]string{},
		lists:   map[string][]string{},
		zsets:   map[string]map[string]float64{},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"unauthorized"}`)
			return
		}
		var cmd []any
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result, errMsg := f.apply(cmd)
		w.Header().Set("Content-Type", "application/json")
		if errMsg != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": errMsg})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
	}))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeUpstash) apply(cmd []any) (any, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)

	args := make([]string, len(cmd))
	for i, c := range cmd {
		args[i] = fmt.Sprint(c)
	}
	switch strings.ToUpper(args[0]) {
	case "PING":
		return "PONG", ""
	case "SET":
		key, val := args[1], args[2]
		_, exists := f.strings[key]
		for _, opt := range args[3:] {
			switch strings.ToUpper(opt) {
			case "NX":
				if exists {
					return nil, ""
				}
			case "XX":
				if !exists {
					return nil, ""
				}
			}
		}
		f.strings[key] = val
		return "OK", ""
	case "GET":
		v, ok := f.strings[args[1]]
		if !ok {
			return nil, ""
		}
		return v, ""
	case "MGET":
		out := make([]any, 0, len(args)-1)
		for _, k := range args[1:] {
			if v, ok := f.strings[k]; ok {
				out = append(out, v)
			} else {
				out = append(out, nil)
			}
		}
		return out, ""
	case "EXISTS":
		if _, ok := f.strings[args[1]]; ok {
			return 1, ""
		}
		return 0, ""
	case "RPUSH":
		f.lists[args[1]] = append(f.lists[args[1]], args[2:]...)
		return len(f.lists[args[1]]), ""
	case "LRANGE":
		return append([]string{}, f.lists[args[1]]...), ""
	case "EXPIRE":
		return 1, ""
	case "ZADD":
		var score float64
		fmt.Sscan(args[2], &score)
		if f.zsets[args[1]] == nil {
			f.zsets[args[1]] = map[string]float64{}
		}
		f.zsets[args[1]][args[3]] = score
		return 1, ""
	case "ZCARD":
		return len(f.zsets[args[1]]), ""
	case "ZREVRANGE":
		var start, stop int
		fmt.Sscan(args[2], &start)
		fmt.Sscan(args[3], &stop)
		members := make([]string, 0, len(f.zsets[args[1]]))
		for m := range f.zsets[args[1]] {
			members = append(members, m)
		}
		set := f.zsets[args[1]]
		sort.Slice(members, func(i, j int) bool { return set[members[i]] > set[members[j]] })
		if start >= len(members) {
			return []string{}, ""
		}
		stop = min(stop, len(members)-1)
		return members[start : stop+1], ""
	}
	return nil, "ERR unknown command " + args[0]
}

func newTestUpstashStore(t *testing.T, opts ...StoreOption) (*UpstashRedisStore, *fakeUpstash) {
	t.Helper()

	fake, server := newFakeUpstash(t)
	opts = append([]StoreOption{WithHTTPClient(server.Client())}, opts...)
	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, opts...)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	return store, fake
}

func TestUpstashRedisStoreContract(t *testing.T) {
	t.Parallel()

	runStoreContract(t, func(t *testing.T) Store {
		store, _ := newTestUpstashStore(t)
		return store
	})
}

func TestUpstashRedisStoreKeys(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{keyPrefix: "test:"}
	if got := store.requestKey("abc"); got != "test:request:abc" {
		t.Fatalf("requestKey() = %q", got)
	}
	if got := store.resultsKey("abc"); got != "test:request:abc:results" {
		t.Fatalf("resultsKey() = %q", got)
	}
	if got := store.attemptsKey("abc"); got != "test:request:abc:attempts" {
		t.Fatalf("attemptsKey() = %q", got)
	}
	if got := store.indexKey(); got != "test:requests" {
		t.Fatalf("indexKey() = %q", got)
	}
}

func TestUpstashRedisStoreCreateUsesTTL(t *testing.T) {
	t.Parallel()

	store, fake := newTestUpstashStore(t, WithTTL(90*time.Second), WithKeyPrefix("ttl:"))
	err := store.CreateRequest(context.Background(), contractx.ProcessingRequest{
		ID:     "r1",
		Text:   "hello world text",
		Mode:   contractx.ModeSequential,
		Status: contractx.StatusPending,
	})
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}

	first := fake.commands[0]
	if first[0] != "SET" || first[1] != "ttl:request:r1" {
		t.Fatalf("first command = %#v", first)
	}
	if len(first) != 6 || first[3] != "NX" || first[4] != "EX" || first[5] != float64(90) {
		t.Fatalf("first command options = %#v", first[3:])
	}
}

func TestUpstashRedisStoreRejectsDuplicateCreate(t *testing.T) {
	t.Parallel()

	store, _ := newTestUpstashStore(t)
	req := contractx.ProcessingRequest{ID: "dup", Text: "hello world text", Mode: contractx.ModeSequential, Status: contractx.StatusPending}
	if err := store.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	if err := store.CreateRequest(context.Background(), req); err == nil {
		t.Fatal("CreateRequest() error = nil, want duplicate error")
	}
}

func TestUpstashRedisStoreSurfacesRedisErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"WRONGTYPE Operation against a key"}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	err = store.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "WRONGTYPE") {
		t.Fatalf("Ping() error = %v, want WRONGTYPE", err)
	}
}

func TestNewUpstashRedisStoreValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewUpstashRedisStore(UpstashRedisConfig{Token: "t"}); err == nil {
		t.Fatal("NewUpstashRedisStore() without url error = nil")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://x.upstash.io"}); err == nil {
		t.Fatal("NewUpstashRedisStore() without token error = nil")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://x.upstash.io", Token: "t"}, WithTTL(-time.Second)); err == nil {
		t.Fatal("NewUpstashRedisStore() negative ttl error = nil")
	}
}
