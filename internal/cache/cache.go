// Package cache provides the shared, mutation-guarded registry of all known
// services. It is the single authoritative owner of service records: the
// dispatcher and every background poller hold a reference to the same cache,
// never a private copy.
//
// All access runs through result-returning critical sections. A panic inside
// a critical section poisons the cache; every later operation fails with a
// typed lock error instead of crashing the process.
package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/servicing/internal/model"
	"github.com/seantiz/servicing/internal/svcerr"
)

// Cache is a mutex-guarded map from service name to record. The zero value
// is not usable; construct with New.
type Cache struct {
	mu       sync.Mutex
	poisoned string // non-empty once a critical section has panicked
	services map[string]*model.Service
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{services: make(map[string]*model.Service)}
}

// locked runs fn as a critical section over the service map. The lock is
// held only for the duration of fn; callers must never perform subprocess,
// network, or disk I/O inside fn. A panic in fn poisons the cache and is
// returned as a lock failure.
func (c *Cache) locked(fn func(services map[string]*model.Service) error) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poisoned != "" {
		return svcerr.Lock(c.poisoned)
	}

	defer func() {
		if r := recover(); r != nil {
			c.poisoned = fmt.Sprint(r)
			err = svcerr.Lock(c.poisoned)
		}
	}()

	return fn(c.services)
}

// Insert adds a new record. It fails when the name is already registered;
// overwriting a tracked record would orphan whatever the backend has already
// provisioned under that name.
func (c *Cache) Insert(svc *model.Service) error {
	return c.locked(func(services map[string]*model.Service) error {
		if _, ok := services[svc.Name]; ok {
			return svcerr.General(svc.Name, "already registered")
		}
		services[svc.Name] = svc
		return nil
	})
}

// Update runs fn against the named record under the lock. It fails with
// a not-found error when no record exists.
func (c *Cache) Update(name string, fn func(svc *model.Service) error) error {
	return c.locked(func(services map[string]*model.Service) error {
		svc, ok := services[name]
		if !ok {
			return svcerr.NotFound(name)
		}
		return fn(svc)
	})
}

// Get returns a copy of the named record. The copy is safe to read without
// the lock; mutations must go through Update.
func (c *Cache) Get(name string) (model.Service, error) {
	var out model.Service
	err := c.locked(func(services map[string]*model.Service) error {
		svc, ok := services[name]
		if !ok {
			return svcerr.NotFound(name)
		}
		out = *svc
		return nil
	})
	return out, err
}

// Remove deletes the named record outright. Lifecycle preconditions (the
// service must be fully down) are the backend's responsibility.
func (c *Cache) Remove(name string) error {
	return c.locked(func(services map[string]*model.Service) error {
		if _, ok := services[name]; !ok {
			return svcerr.NotFound(name)
		}
		delete(services, name)
		return nil
	})
}

// Names returns the registered service names, sorted for stable output.
func (c *Cache) Names() ([]string, error) {
	var names []string
	err := c.locked(func(services map[string]*model.Service) error {
		names = make([]string, 0, len(services))
		for name := range services {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil
	})
	return names, err
}

// Len returns the number of registered services, or 0 when the cache is
// poisoned.
func (c *Cache) Len() int {
	n := 0
	_ = c.locked(func(services map[string]*model.Service) error {
		n = len(services)
		return nil
	})
	return n
}
