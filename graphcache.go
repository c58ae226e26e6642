// Package graphcache is a normalized, layered, document-aware GraphQL
// client cache (spec.md). It sits between a GraphQL transport/exchange
// pipeline and the network: it answers operations out of a normalized
// store when it can, forwards the rest, and folds incoming results back
// into the store so that every other live operation depending on what
// changed gets reexecuted.
//
// Grounded on the teacher's functional-options constructor shape
// (internal/server.Options/Option) and its event-driven internals
// (internal/eventbus, internal/otel) — the Operation Controller (C8) itself
// has no teacher analogue, since protograph executes one request at a time
// against a live backend rather than maintaining a normalized cache.
package graphcache

import (
	"context"
	"sync"
	"time"

	"github.com/graphcache/graphcache/internal/cacheapi"
	"github.com/graphcache/graphcache/internal/depindex"
	"github.com/graphcache/graphcache/internal/document"
	"github.com/graphcache/graphcache/internal/eventbus"
	"github.com/graphcache/graphcache/internal/events"
	"github.com/graphcache/graphcache/internal/genid"
	"github.com/graphcache/graphcache/internal/keying"
	"github.com/graphcache/graphcache/internal/language"
	"github.com/graphcache/graphcache/internal/layering"
	"github.com/graphcache/graphcache/internal/otelcache"
	"github.com/graphcache/graphcache/internal/readtrav"
	"github.com/graphcache/graphcache/internal/schema"
	"github.com/graphcache/graphcache/internal/store"
	"github.com/graphcache/graphcache/internal/writetrav"
)

// Severity levels a Logger receives (spec.md §6 "severities include at
// least debug").
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityError Severity = "error"
)

// KeyFunc derives an entity's id from its object; returning "" forces the
// object to be embedded (spec.md §3).
type KeyFunc = keying.Func

// ResolveInfo is passed to every user callback (spec.md §6.1).
type ResolveInfo = cacheapi.ResolveInfo

// ResolverFunc backs a client field resolver.
type ResolverFunc = cacheapi.ResolverFunc

// UpdateFunc runs after a mutation/subscription/query result is written.
type UpdateFunc = cacheapi.UpdateFunc

// OptimisticFunc computes a mutation's optimistic response.
type OptimisticFunc = cacheapi.OptimisticFunc

// CacheAPI is the mediated handle user callbacks read/write the cache
// through (spec.md §6).
type CacheAPI = cacheapi.API

// Options configures a Cache (spec.md §6 "Constructor options").
type Options struct {
	// Keys maps typename to a keying function, overriding the default
	// id/_id lookup.
	Keys map[string]KeyFunc
	// Resolvers maps "Typename.fieldName" to a client field resolver.
	Resolvers map[string]ResolverFunc
	// Updates maps "Typename.fieldName" to a post-write updater.
	Updates map[string]UpdateFunc
	// Optimistic maps a mutation field name to its optimistic-response
	// function.
	Optimistic map[string]OptimisticFunc
	// Schema is a minified IntrospectionQuery JSON payload, optional.
	Schema []byte
	// Logger receives every message the cache logs; nil discards them.
	Logger func(severity Severity, message string)
	// TraceEndpoint, if set, is an OTLP gRPC endpoint spans are exported to.
	TraceEndpoint string
	// ServiceName labels the exported spans (default "graphcache").
	ServiceName string
}

// opState tracks one live operation between Operation/Result/Teardown
// calls.
type opState struct {
	key          OperationKey
	kind         OperationKind
	policy       RequestPolicy
	doc          *language.QueryDocument
	rootTypename string
	rootKey      string
	selectionSet language.SelectionSet
	variables    map[string]any
	ch           chan Result

	issueSeq int64
	resolved bool

	optimisticLayer   string
	commutativeLayer  string
	subscriptionLayer string

	lastData map[string]any
}

// Cache is the externally-visible state machine described by spec.md §4.8.
// Per §5, it assumes no parallel access to its internals; Cache itself adds
// a mutex only so a host that does call it concurrently fails safely rather
// than racing the store.
type Cache struct {
	mu sync.Mutex

	store    *store.Store
	layers   *layering.Controller
	keygen   keying.KeyGen
	schema   *schema.Schema
	analyzer *document.Analyzer
	reader   *readtrav.Traversal
	writer   *writetrav.Traversal
	deps     *depindex.Index
	gen      genid.Source
	bus      *eventbus.Bus

	resolvers  map[string]ResolverFunc
	updates    map[string]UpdateFunc
	optimistic map[string]OptimisticFunc

	logger   func(Severity, string)
	shutdown func(context.Context) error

	ops        map[OperationKey]*opState
	issueOrder []OperationKey
	nextSeq    int64
	curGen     uint64
}

// New builds a Cache from opts.
func New(opts Options) *Cache {
	var sch *schema.Schema
	if len(opts.Schema) > 0 {
		if loaded, err := schema.Load(opts.Schema); err == nil {
			sch = loaded
		}
	}

	logger := opts.Logger
	bridgeLogger := func(severity, message string) {
		if logger != nil {
			logger(Severity(severity), message)
		}
	}

	c := &Cache{
		store:      store.New(),
		keygen:     keying.KeyGen{Keys: opts.Keys},
		schema:     sch,
		analyzer:   document.New(),
		deps:       depindex.New(),
		bus:        eventbus.New(),
		resolvers:  opts.Resolvers,
		updates:    opts.Updates,
		optimistic: opts.Optimistic,
		logger:     logger,
		ops:        make(map[OperationKey]*opState),
		shutdown:   func(context.Context) error { return nil },
	}
	c.layers = layering.New(c.store)
	c.reader = readtrav.New(c.store, c.keygen, c.schema, c.analyzer, opts.Resolvers, bridgeLogger)
	c.writer = writetrav.New(c.keygen, c.schema, c.analyzer, opts.Updates, bridgeLogger)

	if opts.TraceEndpoint != "" {
		service := opts.ServiceName
		if service == "" {
			service = "graphcache"
		}
		if shutdown, err := otelcache.Setup(c.bus, opts.TraceEndpoint, service); err == nil {
			c.shutdown = shutdown
		} else {
			c.log(SeverityError, "otelcache setup failed: "+err.Error())
		}
	}
	return c
}

// Shutdown flushes any configured tracing exporter.
func (c *Cache) Shutdown(ctx context.Context) error {
	return c.shutdown(ctx)
}

func (c *Cache) log(severity Severity, message string) {
	if c.logger != nil {
		c.logger(severity, message)
	}
}

func (c *Cache) currentGeneration() uint64 {
	return c.gen.Next()
}

// rootFor returns the typename/entity-key pair for a root operation kind
// (spec.md §3 "well-known sentinels").
func rootFor(kind OperationKind) (typename, key string) {
	switch kind {
	case KindMutation:
		return keying.RootMutation, keying.RootMutation
	case KindSubscription:
		return keying.RootSubscription, keying.RootSubscription
	default:
		return keying.RootQuery, keying.RootQuery
	}
}

func selectionOf(doc *language.QueryDocument, operationName string) (*language.OperationDefinition, bool) {
	if len(doc.Operations) == 0 {
		return nil, false
	}
	if operationName == "" {
		return doc.Operations[0], true
	}
	for _, op := range doc.Operations {
		if op.Name == operationName {
			return op, true
		}
	}
	return doc.Operations[0], true
}

func emitStart(c *Cache, st *opState) {
	eventbus.Publish(c.bus, context.Background(), events.OperationStart{
		OperationKey:  string(st.key),
		OperationType: string(st.kind),
		OperationName: st.doc.Operations[0].Name,
	})
}

func emitFinish(c *Cache, st *opState, outcome string, started time.Time) {
	eventbus.Publish(c.bus, context.Background(), events.OperationFinish{
		OperationKey: string(st.key),
		Outcome:      outcome,
		Duration:     time.Since(started),
	})
}
