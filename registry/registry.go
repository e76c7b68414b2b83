package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/c360studio/landledger/registry"

// Registry enforces the append-once binding of land keys to owner records.
// Store access is serialized per Registry; the Store keeps insert-if-absent
// atomic for hosts sharing a substrate across processes. Events are emitted
// outside the lock, after the state change is committed.
type Registry struct {
	mu      sync.Mutex
	store   Store
	sink    EventSink
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithEventSink sets where notifications go. The default drops them.
func WithEventSink(sink EventSink) Option {
	return func(r *Registry) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the operation counters.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithTracer overrides the tracer taken from the global OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithClock overrides time.Now for registration timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Registry over store. A nil store gets a fresh MemoryStore.
func New(store Store, opts ...Option) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Registry{
		store:  store,
		sink:   NopSink{},
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds key to (owner, caller). It fails with ErrAlreadyRegistered if
// the key is present, in which case nothing changes and nothing is emitted.
// On success a Registered notification is emitted.
func (r *Registry) Register(ctx context.Context, caller Identity, key RecordKey, owner []byte) (err error) {
	ctx, span := r.tracer.Start(ctx, "registry.Register", trace.WithAttributes(
		attribute.String("landledger.key", key.Abbrev()),
		attribute.String("landledger.caller", string(caller)),
	))
	defer func() {
		r.metrics.observeRegister(err)
		endSpan(span, err)
	}()

	if err := validate(caller, key); err != nil {
		return &OpError{Op: "register", Key: key, Err: err}
	}

	record, err := r.insert(ctx, caller, key, owner)
	if err != nil {
		return err
	}

	r.logger.Debug("Land record registered", "key", key.Abbrev(), "caller", string(caller))
	return r.emit(ctx, newRegisteredEvent(caller, key, record.RegisteredAt))
}

// insert performs the check-then-insert under the registry lock. Event
// delivery happens after the lock is released.
func (r *Registry) insert(ctx context.Context, caller Identity, key RecordKey, owner []byte) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := Record{
		RecordValue: RecordValue{
			OwnerName:    cloneBytes(owner),
			RegisteredBy: caller,
		},
		RegisteredAt: r.now().UTC(),
	}
	if err := r.store.Insert(ctx, key, record); err != nil {
		if IsAlreadyRegistered(err) {
			r.logger.Debug("Land record already registered", "key", key.Abbrev(), "caller", string(caller))
			return Record{}, &OpError{Op: "register", Key: key, Err: ErrAlreadyRegistered}
		}
		return Record{}, &OpError{Op: "register", Key: key, Err: fmt.Errorf("store insert: %w", err)}
	}
	return record, nil
}

// Verify returns the owner stored under key and emits an OwnerConfirmed
// notification. Any authenticated caller may verify; the caller is not
// compared with the registrant.
func (r *Registry) Verify(ctx context.Context, caller Identity, key RecordKey) (owner []byte, err error) {
	ctx, span := r.tracer.Start(ctx, "registry.Verify", trace.WithAttributes(
		attribute.String("landledger.key", key.Abbrev()),
		attribute.String("landledger.caller", string(caller)),
	))
	defer func() {
		r.metrics.observeVerify(err)
		endSpan(span, err)
	}()

	if err := validate(caller, key); err != nil {
		return nil, &OpError{Op: "verify", Key: key, Err: err}
	}

	record, err := r.get(ctx, "verify", key)
	if err != nil {
		return nil, err
	}

	owner = cloneBytes(record.OwnerName)
	if err := r.emit(ctx, newOwnerConfirmedEvent(owner, r.now().UTC())); err != nil {
		return owner, err
	}
	return owner, nil
}

// Lookup returns a copy of the full record under key without emitting anything.
func (r *Registry) Lookup(ctx context.Context, key RecordKey) (Record, error) {
	if err := validateKey(key); err != nil {
		return Record{}, &OpError{Op: "lookup", Key: key, Err: err}
	}

	record, err := r.get(ctx, "lookup", key)
	if err != nil {
		return Record{}, err
	}
	return record.Clone(), nil
}

func (r *Registry) get(ctx context.Context, op string, key RecordKey) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.store.Get(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return Record{}, &OpError{Op: op, Key: key, Err: ErrNotFound}
		}
		return Record{}, &OpError{Op: op, Key: key, Err: fmt.Errorf("store get: %w", err)}
	}
	return record, nil
}

func (r *Registry) emit(ctx context.Context, event Event) error {
	if err := r.sink.Emit(ctx, event); err != nil {
		r.metrics.observeNotifyError()
		r.logger.Warn("Failed to emit land registry event",
			"event_id", event.ID, "kind", string(event.Kind), "error", err)
		return &NotifyError{Event: event, Err: err}
	}
	return nil
}

func validate(caller Identity, key RecordKey) error {
	if caller == "" {
		return ErrUnauthenticated
	}
	return validateKey(key)
}

func validateKey(key RecordKey) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLen {
		return fmt.Errorf("%w: key is %d bytes, limit %d", ErrInvalidKey, len(key), MaxKeyLen)
	}
	return nil
}

func isValidationError(err error) bool {
	return errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrUnauthenticated)
}

func endSpan(span trace.Span, err error) {
	if err != nil && !IsNotifyError(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
