package graphcache

// OperationKey uniquely identifies one live operation (spec.md §6 "each
// carrying {key, query, variables, context}").
type OperationKey string

// OperationKind is one of the three operation kinds the Operation Controller
// recognizes (spec.md §4.8); teardown is Cache.Teardown, not a kind.
type OperationKind string

const (
	KindQuery        OperationKind = "query"
	KindMutation     OperationKind = "mutation"
	KindSubscription OperationKind = "subscription"
)

// RequestPolicy governs when an operation is answered from the store versus
// forwarded (spec.md §6 "Request policies recognized").
type RequestPolicy string

const (
	CacheFirst      RequestPolicy = "cache-first"
	CacheAndNetwork RequestPolicy = "cache-and-network"
	CacheOnly       RequestPolicy = "cache-only"
	NetworkOnly     RequestPolicy = "network-only"
)

// Operation is one incoming query/mutation/subscription (spec.md §6
// "Operation contract").
type Operation struct {
	Key           OperationKey
	Kind          OperationKind
	Query         string
	OperationName string
	Variables     map[string]any
	RequestPolicy RequestPolicy
}

// Result is one outgoing emission for an operation (spec.md §6, §4.8
// "emits results of shape {operation, data, error?, stale?, hasNext?,
// context.meta.cacheOutcome?}").
type Result struct {
	Operation    OperationKey
	Data         map[string]any
	Error        error
	Stale        bool
	HasNext      bool
	CacheOutcome CacheOutcome // "" means unset (spec.md §4.8 "for the operation that originated the result")

	// Forward tells the host pipeline this operation (or this request
	// policy's network leg) must actually be issued upstream; the cache has
	// no transport of its own (spec.md §1).
	Forward bool
}

// IncomingResult is a network/subscription result fed back with Cache.Result
// (spec.md §4.8 "On result(res)").
type IncomingResult struct {
	Operation OperationKey
	Data      map[string]any
	Error     error
	HasNext   bool
	// ErrorPaths lists the response paths a passed-through NetworkError
	// reported as null. Cache.Result does not read it: nothing is recorded
	// in the store for these paths, so a later read of them is a miss.
	ErrorPaths [][]string
}
