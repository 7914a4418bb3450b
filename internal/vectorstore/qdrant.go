package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("knowledged.vectorstore.qdrant")

// collectionNamePattern validates collection names: lowercase letters,
// digits and underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP. Default: "localhost".
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port (6333).
	Port int

	// Collection is the single collection all tenants share. Isolation is
	// payload-based, not collection-based.
	Collection string

	// VectorSize is the embedding dimension. Must match the embedder.
	VectorSize int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries bounds retry attempts for transient failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt. Default: 1s.
	RetryBackoff time.Duration

	// BreakerThreshold is the failure count that opens the circuit. Default: 5.
	BreakerThreshold int
}

// ApplyDefaults sets defaults for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if !collectionNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: collection must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, c.Collection)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// isTransient reports whether a gRPC error should be retried.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a Store backed by Qdrant's native gRPC client.
//
// The gRPC transport avoids the HTTP layer's payload limits during bulk
// ingestion. Transient failures are retried with exponential backoff behind a
// circuit breaker.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantStore connects to Qdrant, verifies health and ensures the
// configured collection exists with the configured vector size.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.UseTLS {
		logger.Warn("qdrant grpc using plaintext, enable tls for production")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(50 * 1024 * 1024),
				grpc.MaxCallSendMsgSize(50 * 1024 * 1024),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return s, nil
}

// ensureCollection creates the collection if missing and verifies the vector
// size of an existing one. A size mismatch is a fatal configuration error.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err != nil {
		st, ok := status.FromError(err)
		if !ok || st.Code() != grpccodes.NotFound {
			return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
		}
		info = nil
	}
	if info == nil {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
		}
		s.logger.Info("created qdrant collection",
			zap.String("collection", s.config.Collection),
			zap.Int("vector_size", s.config.VectorSize))
		return nil
	}

	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		if int(params.GetSize()) != s.config.VectorSize {
			return fmt.Errorf("%w: collection %s has size %d, config says %d",
				ErrDimensionMismatch, s.config.Collection, params.GetSize(), s.config.VectorSize)
		}
	}
	return nil
}

// VectorSize returns the configured embedding dimension.
func (s *QdrantStore) VectorSize() int {
	return s.config.VectorSize
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff, subject to
// the circuit breaker. Permanent errors are returned immediately.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if s.isBreakerOpen() {
			return fmt.Errorf("%w: %s: circuit breaker open", ErrStoreUnavailable, name)
		}

		err := op()
		if err == nil {
			s.resetBreaker()
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}

		s.recordFailure()
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%w: %s failed after %d retries: %v", ErrStoreUnavailable, name, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures++
	s.breaker.lastFail = time.Now()
}

func (s *QdrantStore) resetBreaker() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures = 0
}

func (s *QdrantStore) isBreakerOpen() bool {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()

	if s.breaker.failures >= s.config.BreakerThreshold {
		// Half-open after 30s of quiet.
		if time.Since(s.breaker.lastFail) > 30*time.Second {
			s.breaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// Upsert writes all records in a single batched call, idempotent by ID.
func (s *QdrantStore) Upsert(ctx context.Context, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int("record_count", len(records)),
		attribute.String("collection", s.config.Collection),
	)

	if len(records) == 0 {
		return ErrEmptyRecords
	}
	if err := InjectTenantMetadata(ctx, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("injecting tenant metadata: %w", err)
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		if len(r.Vector) != s.config.VectorSize {
			err := fmt.Errorf("%w: record %s has %d dims, store expects %d",
				ErrDimensionMismatch, r.ID, len(r.Vector), s.config.VectorSize)
			span.RecordError(err)
			return err
		}

		payload := make(map[string]*qdrant.Value, len(r.Metadata)+2)
		payload[MetaContent] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: r.Content}}
		payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: r.ID}}
		for k, v := range r.Metadata {
			switch val := v.(type) {
			case string:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
			case int:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
			case int64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
			case float64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
			case bool:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
			}
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		RecordUpsert(len(records), err)
		return err
	}

	RecordUpsert(len(records), nil)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns up to topK matches ordered by descending score, filtered to
// the context tenant.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int, filters map[string]interface{}) ([]Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()

	topK = ClampTopK(topK)
	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("top_k", topK),
	)

	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query vector has %d dims, store expects %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	merged, err := InjectTenantFilter(ctx, filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("injecting tenant filter: %w", err)
	}

	conditions, err := filterConditions(merged)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         &qdrant.Filter{Must: conditions},
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		RecordQuery(0, err)
		return nil, err
	}

	matches := make([]Match, len(points))
	for i, point := range points {
		m := Match{Score: point.Score, Metadata: make(map[string]interface{}, len(point.Payload))}
		for k, v := range point.Payload {
			switch val := v.Kind.(type) {
			case *qdrant.Value_StringValue:
				m.Metadata[k] = val.StringValue
				switch k {
				case MetaContent:
					m.Content = val.StringValue
				case "id":
					m.ID = val.StringValue
				}
			case *qdrant.Value_IntegerValue:
				m.Metadata[k] = val.IntegerValue
			case *qdrant.Value_DoubleValue:
				m.Metadata[k] = val.DoubleValue
			case *qdrant.Value_BoolValue:
				m.Metadata[k] = val.BoolValue
			}
		}
		matches[i] = m
	}

	RecordQuery(len(matches), nil)
	span.SetAttributes(attribute.Int("match_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// DeleteBySource deletes the context tenant's records for one document.
func (s *QdrantStore) DeleteBySource(ctx context.Context, source string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteBySource")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.String("source", source),
	)

	tenant, err := TenantFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := tenant.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	conditions := []*qdrant.Condition{
		keywordCondition(MetaClientID, tenant.ClientID),
		keywordCondition(MetaSource, source),
	}
	if tenant.ScopeID != "" {
		conditions = append(conditions, keywordCondition(MetaScopeID, tenant.ScopeID))
	}

	err = s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{Must: conditions},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Stats reports the collection's record count and vector size.
func (s *QdrantStore) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Stats")
	defer span.End()

	var stats *Stats
	err := s.retryOperation(ctx, "stats", func() error {
		info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
		if err != nil {
			return err
		}
		count := 0
		if info.PointsCount != nil {
			count = int(*info.PointsCount)
		}
		stats = &Stats{
			Collection:  s.config.Collection,
			RecordCount: count,
			VectorSize:  s.config.VectorSize,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("describing collection %s: %w", s.config.Collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return stats, nil
}

// filterConditions translates a filter map into exact-match payload
// conditions. Unsupported value types are an error, never a silently
// unfiltered query.
func filterConditions(filters map[string]interface{}) ([]*qdrant.Condition, error) {
	conditions := make([]*qdrant.Condition, 0, len(filters))
	for key, value := range filters {
		switch v := value.(type) {
		case string:
			conditions = append(conditions, keywordCondition(key, v))
		case int:
			conditions = append(conditions, integerCondition(key, int64(v)))
		case int64:
			conditions = append(conditions, integerCondition(key, v))
		case bool:
			conditions = append(conditions, boolCondition(key, v))
		default:
			return nil, fmt.Errorf("%w: filter %q has unsupported type %T", ErrInvalidFilter, key, value)
		}
	}
	return conditions, nil
}

// keywordCondition builds an exact-match payload condition.
func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func integerCondition(key string, value int64) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Integer{Integer: value},
				},
			},
		},
	}
}

func boolCondition(key string, value bool) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Boolean{Boolean: value},
				},
			},
		},
	}
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
