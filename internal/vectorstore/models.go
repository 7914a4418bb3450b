package vectorstore

// Metadata keys persisted with every vector record.
const (
	// MetaClientID scopes a record to the tenant that ingested it.
	MetaClientID = "client_id"
	// MetaScopeID binds a record to a sub-resource, e.g. a listing.
	MetaScopeID = "scope_id"
	// MetaScopeURL is the public URL of the scoped sub-resource.
	MetaScopeURL = "scope_url"
	// MetaSource is the originating document name, e.g. a filename.
	MetaSource = "source"
	// MetaChunkIndex is the zero-based position of the chunk in its document.
	MetaChunkIndex = "chunk_index"
	// MetaIngestionType records how the document was ingested (general/scoped).
	MetaIngestionType = "ingestion_type"
	// MetaContent holds the chunk text so matches can be returned verbatim.
	MetaContent = "content"
)

// Record is a vector record to be upserted into the store.
//
// ID is deterministically derived from (source, chunk index), so re-ingesting
// an unchanged document overwrites the same records instead of duplicating
// them.
type Record struct {
	// ID is the unique record identifier (UUID string).
	ID string

	// Content is the chunk text.
	Content string

	// Vector is the embedding of Content. Its length must equal the store's
	// configured vector size.
	Vector []float32

	// Metadata carries the payload fields used for filtering and display.
	// Tenant fields are injected by the store, never trusted from callers.
	Metadata map[string]interface{}
}

// Match is a ranked result from a similarity query. Matches are derived per
// query and never persisted.
type Match struct {
	// ID is the matched record identifier.
	ID string `json:"id"`

	// Content is the matched chunk text.
	Content string `json:"content"`

	// Score is the similarity score, higher is more similar. Ordering of
	// equal scores is store-dependent.
	Score float32 `json:"score"`

	// Metadata is the record payload, including client_id, source and
	// chunk_index.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Stats describes the state of the store's collection.
type Stats struct {
	// Collection is the collection name.
	Collection string `json:"collection"`

	// RecordCount is the number of vectors in the collection.
	RecordCount int `json:"record_count"`

	// VectorSize is the configured embedding dimension.
	VectorSize int `json:"vector_size"`
}
