// Package mem provides an in-memory grant store used by tests and the
// embedded server mode. Transactions buffer writes and apply them on
// commit under a single store lock; scans return grants in key order.
package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"vantadb.org/internal/access"
)

const catalogCacheTTL = time.Minute

// Store is an in-memory implementation of access.Store.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]struct{}
	databases  map[string]struct{}
	methods    map[string]access.AccessMethod
	users      map[string]access.User
	grants     map[string]access.AccessGrant

	// catalog reads go through a TTL cache; transactions flush it via
	// ClearCache before reading.
	catalog *gocache.Cache
}

// New creates an empty store.
func New() *Store {
	return &Store{
		namespaces: make(map[string]struct{}),
		databases:  make(map[string]struct{}),
		methods:    make(map[string]access.AccessMethod),
		users:      make(map[string]access.User),
		grants:     make(map[string]access.AccessGrant),
		catalog:    gocache.New(catalogCacheTTL, 5*time.Minute),
	}
}

func targetKey(t access.Target) string {
	switch t.Level {
	case access.LevelNamespace:
		return fmt.Sprintf("/ns/%s", t.Namespace)
	case access.LevelDatabase:
		return fmt.Sprintf("/ns/%s/db/%s", t.Namespace, t.Database)
	default:
		return "/root"
	}
}

func methodKey(t access.Target, name string) string {
	return targetKey(t) + "/ac/" + name
}

func userKey(t access.Target, name string) string {
	return targetKey(t) + "/us/" + name
}

func grantPrefix(t access.Target, method string) string {
	return targetKey(t) + "/ac/" + method + "/gr/"
}

func grantKey(t access.Target, method, id string) string {
	return grantPrefix(t, method) + id
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (access.Tx, error) {
	return &tx{
		store:   s,
		puts:    make(map[string]access.AccessGrant),
		inserts: make(map[string]string),
		deletes: make(map[string]struct{}),
	}, nil
}

type tx struct {
	store *Store
	done  bool

	// buffered mutations, applied on commit
	puts map[string]access.AccessGrant
	// keys staged by PutGrant rather than SetGrant, with the grant id;
	// their absence is re-checked under the store lock at commit time.
	inserts    map[string]string
	deletes    map[string]struct{}
	namespaces []string
	databases  []string
	methods    map[string]access.AccessMethod
	users      map[string]access.User
}

func (t *tx) ClearCache() {
	t.store.catalog.Flush()
}

func (t *tx) Access(ctx context.Context, target access.Target, name string) (access.AccessMethod, error) {
	key := methodKey(target, name)
	if t.methods != nil {
		if am, ok := t.methods[key]; ok {
			return am, nil
		}
	}
	if v, ok := t.store.catalog.Get(key); ok {
		return v.(access.AccessMethod), nil
	}
	t.store.mu.RLock()
	am, ok := t.store.methods[key]
	t.store.mu.RUnlock()
	if !ok {
		return access.AccessMethod{}, fmt.Errorf("%w: access method %q", access.ErrNotFound, name)
	}
	t.store.catalog.Set(key, am, gocache.DefaultExpiration)
	return am, nil
}

func (t *tx) DefineAccess(ctx context.Context, target access.Target, am access.AccessMethod) error {
	if t.methods == nil {
		t.methods = make(map[string]access.AccessMethod)
	}
	t.methods[methodKey(target, am.Name)] = am
	return nil
}

func (t *tx) User(ctx context.Context, target access.Target, name string) (access.User, error) {
	key := userKey(target, name)
	if t.users != nil {
		if u, ok := t.users[key]; ok {
			return u, nil
		}
	}
	if v, ok := t.store.catalog.Get(key); ok {
		return v.(access.User), nil
	}
	t.store.mu.RLock()
	u, ok := t.store.users[key]
	t.store.mu.RUnlock()
	if !ok {
		return access.User{}, fmt.Errorf("%w: user %q", access.ErrNotFound, name)
	}
	t.store.catalog.Set(key, u, gocache.DefaultExpiration)
	return u, nil
}

func (t *tx) DefineUser(ctx context.Context, target access.Target, u access.User) error {
	if t.users == nil {
		t.users = make(map[string]access.User)
	}
	t.users[userKey(target, u.Name)] = u
	return nil
}

func (t *tx) EnsureNamespace(ctx context.Context, ns string, strict bool) error {
	t.store.mu.RLock()
	_, ok := t.store.namespaces[ns]
	t.store.mu.RUnlock()
	if ok {
		return nil
	}
	if strict {
		return fmt.Errorf("%w: namespace %q", access.ErrNotFound, ns)
	}
	t.namespaces = append(t.namespaces, ns)
	return nil
}

func (t *tx) EnsureDatabase(ctx context.Context, ns, db string, strict bool) error {
	key := ns + "/" + db
	t.store.mu.RLock()
	_, ok := t.store.databases[key]
	t.store.mu.RUnlock()
	if ok {
		return nil
	}
	if strict {
		return fmt.Errorf("%w: database %q", access.ErrNotFound, db)
	}
	t.databases = append(t.databases, key)
	return nil
}

func (t *tx) Grant(ctx context.Context, target access.Target, method, id string) (access.AccessGrant, error) {
	key := grantKey(target, method, id)
	if _, deleted := t.deletes[key]; !deleted {
		if g, ok := t.puts[key]; ok {
			return g, nil
		}
	} else {
		return access.AccessGrant{}, fmt.Errorf("%w: grant %q", access.ErrNotFound, id)
	}
	t.store.mu.RLock()
	g, ok := t.store.grants[key]
	t.store.mu.RUnlock()
	if !ok {
		return access.AccessGrant{}, fmt.Errorf("%w: grant %q", access.ErrNotFound, id)
	}
	return g, nil
}

func (t *tx) PutGrant(ctx context.Context, target access.Target, g access.AccessGrant) error {
	key := grantKey(target, g.Method, g.ID)
	if _, deleted := t.deletes[key]; !deleted {
		if _, ok := t.puts[key]; ok {
			return fmt.Errorf("%w: grant %q", access.ErrAlreadyExists, g.ID)
		}
		t.store.mu.RLock()
		_, exists := t.store.grants[key]
		t.store.mu.RUnlock()
		if exists {
			return fmt.Errorf("%w: grant %q", access.ErrAlreadyExists, g.ID)
		}
	}
	delete(t.deletes, key)
	t.puts[key] = g
	t.inserts[key] = g.ID
	return nil
}

func (t *tx) SetGrant(ctx context.Context, target access.Target, g access.AccessGrant) error {
	key := grantKey(target, g.Method, g.ID)
	delete(t.deletes, key)
	t.puts[key] = g
	return nil
}

func (t *tx) DeleteGrant(ctx context.Context, target access.Target, method, id string) error {
	key := grantKey(target, method, id)
	delete(t.puts, key)
	delete(t.inserts, key)
	t.deletes[key] = struct{}{}
	return nil
}

func (t *tx) Grants(ctx context.Context, target access.Target, method string) ([]access.AccessGrant, error) {
	prefix := grantPrefix(target, method)
	merged := make(map[string]access.AccessGrant)
	t.store.mu.RLock()
	for key, g := range t.store.grants {
		if strings.HasPrefix(key, prefix) {
			merged[key] = g
		}
	}
	t.store.mu.RUnlock()
	for key, g := range t.puts {
		if strings.HasPrefix(key, prefix) {
			merged[key] = g
		}
	}
	for key := range t.deletes {
		delete(merged, key)
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]access.AccessGrant, 0, len(keys))
	for _, key := range keys {
		out = append(out, merged[key])
	}
	return out, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("%w: transaction finished", access.ErrStore)
	}
	t.done = true
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	// The PutGrant-time absence check races with other transactions;
	// re-check under the store lock so an overlapping commit of the same
	// key fails instead of silently overwriting. Nothing is applied on
	// failure.
	for key, id := range t.inserts {
		if _, staged := t.puts[key]; !staged {
			continue
		}
		if _, exists := s.grants[key]; exists {
			return fmt.Errorf("%w: grant %q", access.ErrAlreadyExists, id)
		}
	}
	for _, ns := range t.namespaces {
		s.namespaces[ns] = struct{}{}
	}
	for _, db := range t.databases {
		s.databases[db] = struct{}{}
	}
	for key, am := range t.methods {
		s.methods[key] = am
		s.catalog.Delete(key)
	}
	for key, u := range t.users {
		s.users[key] = u
		s.catalog.Delete(key)
	}
	for key := range t.deletes {
		delete(s.grants, key)
	}
	for key, g := range t.puts {
		s.grants[key] = g
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}
