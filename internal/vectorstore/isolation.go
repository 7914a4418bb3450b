package vectorstore

import "context"

// Payload isolation is the single tenant-isolation mechanism used by all
// stores: tenant fields are written into every record's payload and injected
// into every query filter. The same mechanism applies on the write and the
// read path, so no call site can weaken isolation by mixing mechanisms.

// InjectTenantMetadata stamps the context tenant's fields onto every record.
// Caller-supplied tenant fields are overwritten: the context is the only
// authority on tenant identity.
func InjectTenantMetadata(ctx context.Context, records []Record) error {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return err
	}
	if err := tenant.Validate(); err != nil {
		return err
	}

	meta := tenant.Metadata()
	for i := range records {
		if records[i].Metadata == nil {
			records[i].Metadata = make(map[string]interface{}, len(meta))
		}
		for k, v := range meta {
			records[i].Metadata[k] = v
		}
	}
	return nil
}

// InjectTenantFilter merges the context tenant's filter into the given query
// filters. Tenant fields win over caller-supplied values.
func InjectTenantFilter(ctx context.Context, filters map[string]interface{}) (map[string]interface{}, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}

	merged := make(map[string]interface{}, len(filters)+2)
	for k, v := range filters {
		merged[k] = v
	}
	for k, v := range tenant.Filter() {
		merged[k] = v
	}
	return merged, nil
}
