package schema

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Source provides the schema definitions, normally the REST gateway.
type Source interface {
	Classes(ctx context.Context) (map[string]Class, error)
	Relations(ctx context.Context) (map[string]Relation, error)
	Enums(ctx context.Context) (map[string][]string, error)
	FieldDescriptions(ctx context.Context) (map[string]map[string]string, error)
}

const (
	cacheKeyClasses    = "classes"
	cacheKeyRelations  = "relations"
	cacheKeyEnums      = "enums"
	cacheKeyFieldDescs = "field_descriptions"

	// Bucket in the field description payload that applies to every
	// relation unless a relation-specific entry overrides it.
	generalQualifiers = "general_qualifiers"
)

// Store caches the schema for the duration of a session. The initial load
// fetches all definition endpoints concurrently; Refresh refetches on
// demand. Concurrent loads are collapsed into one fetch.
type Store struct {
	source Source
	cache  *cache.Cache
	group  singleflight.Group
}

// NewStoreParams contains configuration for creating a Store.
type NewStoreParams struct {
	Source Source

	// TTL bounds how long cached definitions are served. Zero or negative
	// keeps them for the whole session.
	TTL time.Duration
}

// NewStore creates an empty schema store. Call Load before using the
// lookup methods.
func NewStore(params NewStoreParams) *Store {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Store{
		source: params.Source,
		cache:  cache.New(ttl, 0),
	}
}

// Load fetches the schema unless it is already cached.
func (s *Store) Load(ctx context.Context) error {
	if s.Loaded() {
		return nil
	}
	return s.Refresh(ctx)
}

// Refresh refetches every definition endpoint and replaces the cached
// schema. Calls that overlap share a single fetch.
func (s *Store) Refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		return nil, s.fetchAll(ctx)
	})
	return err
}

// Loaded reports whether class and relation definitions are cached.
func (s *Store) Loaded() bool {
	_, okClasses := s.cache.Get(cacheKeyClasses)
	_, okRelations := s.cache.Get(cacheKeyRelations)
	return okClasses && okRelations
}

func (s *Store) fetchAll(ctx context.Context) error {
	var (
		classes    map[string]Class
		relations  map[string]Relation
		enums      map[string][]string
		fieldDescs map[string]map[string]string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		classes, err = s.source.Classes(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch classes: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		relations, err = s.source.Relations(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch relations: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		enums, err = s.source.Enums(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch enums: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		fieldDescs, err = s.source.FieldDescriptions(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch field descriptions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.cache.Set(cacheKeyClasses, classes, cache.DefaultExpiration)
	s.cache.Set(cacheKeyRelations, relations, cache.DefaultExpiration)
	s.cache.Set(cacheKeyEnums, enums, cache.DefaultExpiration)
	s.cache.Set(cacheKeyFieldDescs, fieldDescs, cache.DefaultExpiration)
	return nil
}

// Class looks up an entity class by name.
func (s *Store) Class(name string) (Class, bool) {
	c, ok := cached[map[string]Class](s, cacheKeyClasses)[name]
	return c, ok
}

// Relation looks up a relation type by name.
func (s *Store) Relation(name string) (Relation, bool) {
	r, ok := cached[map[string]Relation](s, cacheKeyRelations)[name]
	return r, ok
}

// ClassNames returns all known class names in sorted order.
func (s *Store) ClassNames() []string {
	return sortedKeys(cached[map[string]Class](s, cacheKeyClasses))
}

// RelationNames returns all known relation type names in sorted order.
func (s *Store) RelationNames() []string {
	return sortedKeys(cached[map[string]Relation](s, cacheKeyRelations))
}

// Enums returns the shared enum vocabularies by name.
func (s *Store) Enums() map[string][]string {
	return cached[map[string][]string](s, cacheKeyEnums)
}

// EnumValues returns the values of one enum vocabulary.
func (s *Store) EnumValues(name string) ([]string, bool) {
	values, ok := s.Enums()[name]
	return values, ok
}

// FieldDescription returns the help text for a relation attribute, falling
// back to the shared general qualifiers when the relation has no entry of
// its own.
func (s *Store) FieldDescription(relation, field string) (string, bool) {
	descs := cached[map[string]map[string]string](s, cacheKeyFieldDescs)
	if d, ok := descs[relation][field]; ok {
		return d, true
	}
	d, ok := descs[generalQualifiers][field]
	return d, ok
}

func cached[T any](s *Store, key string) T {
	var zero T
	v, ok := s.cache.Get(key)
	if !ok {
		return zero
	}
	typed, ok := v.(T)
	if !ok {
		return zero
	}
	return typed
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
