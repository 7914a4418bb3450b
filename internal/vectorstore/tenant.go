package vectorstore

import (
	"context"
	"errors"
)

// Tenant isolation errors. The security model is fail closed: operations
// without tenant context fail instead of running unfiltered.
var (
	// ErrMissingTenant is returned when tenant info is absent from context.
	ErrMissingTenant = errors.New("tenant info missing from context")

	// ErrInvalidTenant is returned when the tenant identifier is empty.
	ErrInvalidTenant = errors.New("invalid tenant identifier")
)

// tenantContextKey is the context key for TenantInfo.
type tenantContextKey struct{}

// TenantInfo scopes vector store operations to one tenant.
//
// ClientID is required and is never inferred; it is supplied by the caller on
// every ingestion and query operation. ScopeID optionally narrows operations
// to a sub-resource such as a property listing.
type TenantInfo struct {
	// ClientID is the tenant identifier (required).
	ClientID string

	// ScopeID is an optional sub-resource identifier.
	ScopeID string
}

// Validate checks that the required tenant identifier is present.
func (t *TenantInfo) Validate() error {
	if t.ClientID == "" {
		return ErrInvalidTenant
	}
	return nil
}

// Metadata returns the tenant fields injected into every stored record.
func (t *TenantInfo) Metadata() map[string]interface{} {
	meta := map[string]interface{}{
		MetaClientID: t.ClientID,
	}
	if t.ScopeID != "" {
		meta[MetaScopeID] = t.ScopeID
	}
	return meta
}

// Filter returns the filter conditions injected into every query.
func (t *TenantInfo) Filter() map[string]interface{} {
	filter := map[string]interface{}{
		MetaClientID: t.ClientID,
	}
	if t.ScopeID != "" {
		filter[MetaScopeID] = t.ScopeID
	}
	return filter
}

// ContextWithTenant returns a context carrying the given tenant info.
func ContextWithTenant(ctx context.Context, tenant *TenantInfo) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

// TenantFromContext extracts TenantInfo from a context.
// Returns ErrMissingTenant if absent.
func TenantFromContext(ctx context.Context) (*TenantInfo, error) {
	tenant, ok := ctx.Value(tenantContextKey{}).(*TenantInfo)
	if !ok || tenant == nil {
		return nil, ErrMissingTenant
	}
	return tenant, nil
}

// HasTenant reports whether tenant info is present in the context.
func HasTenant(ctx context.Context) bool {
	_, err := TenantFromContext(ctx)
	return err == nil
}
