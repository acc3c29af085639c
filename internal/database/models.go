package database

// Table names, also used as keys for Changes.
const (
	TableMedia          = "media"
	TableMarker         = "metadata"
	TableSettings       = "settings"
	TableMetadataIndex  = "index_metadata"
	TableClassification = "index_classification"
	TableHue            = "index_hue"
	TableEmbedding      = "index_embedding"
)

// IndexTables lists every derived index table.
var IndexTables = []string{TableMetadataIndex, TableClassification, TableHue, TableEmbedding}

// MediaItem is one entry of the media source as mirrored in the cache.
// Timestamp is the last-modified time in unix milliseconds; together with ID
// it is the diff identity of an item.
type MediaItem struct {
	ID         int64  `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	AlbumID    int64  `json:"albumId"`
	AlbumLabel string `json:"albumLabel"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	MimeType   string `json:"mimeType"`
	Size       int64  `json:"size"`
	TakenAt    int64  `json:"takenAt"`
	Favorite   bool   `json:"favorite,omitempty"`
	Trashed    bool   `json:"trashed,omitempty"`
}

// VersionMarker is an opaque token for a generation of the media source.
type VersionMarker string

// ReconcileResult describes what a Reconcile changed.
type ReconcileResult struct {
	Inserted      []int64 `json:"inserted"`
	Updated       []int64 `json:"updated"`
	Removed       []int64 `json:"removed"`
	IndexPruned   int64   `json:"indexPruned"`
	MarkerChanged bool    `json:"markerChanged"`
}

// Changed reports whether any media row was written.
func (r ReconcileResult) Changed() bool {
	return len(r.Inserted) > 0 || len(r.Updated) > 0 || len(r.Removed) > 0
}

// IndexRecord is the stored result of processing one media item for one index.
// Timestamp is the item timestamp the payload was computed from.
type IndexRecord[P any] struct {
	ID        int64 `json:"id"`
	Timestamp int64 `json:"timestamp"`
	Payload   P     `json:"payload"`
}

// MetadataPayload holds technical image/video metadata.
type MetadataPayload struct {
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Orientation int    `json:"orientation,omitempty"`
	Format      string `json:"format,omitempty"`
	Bands       int    `json:"bands,omitempty"`
	Pages       int    `json:"pages,omitempty"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mimeType"`
}

// ClassificationPayload holds the best label of an image classifier.
type ClassificationPayload struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// NoHue marks an achromatic or missing hue code.
const NoHue = -1

// HueBuckets is the number of quantized hue codes.
const HueBuckets = 12

// HuePayload holds the two dominant quantized hue codes (0..11 or NoHue).
type HuePayload struct {
	Primary   int `json:"primary"`
	Secondary int `json:"secondary"`
}

// HasHue reports whether either code equals hue.
func (h HuePayload) HasHue(hue int) bool {
	return hue != NoHue && (h.Primary == hue || h.Secondary == hue)
}

// EmbeddingPayload holds a feature vector.
type EmbeddingPayload struct {
	Vector []float32 `json:"vector"`
	Model  string    `json:"model,omitempty"`
}

// SortField selects the primary ordering of views.
type SortField string

const (
	SortModified SortField = "modified"
	SortTaken    SortField = "taken"
	SortName     SortField = "name"
)

// Valid reports whether f is a known sort field.
func (f SortField) Valid() bool {
	switch f {
	case SortModified, SortTaken, SortName:
		return true
	}
	return false
}

// ViewSettings are the user's ordering preferences.
type ViewSettings struct {
	SortField                 SortField `json:"sortField"`
	Descending                bool      `json:"descending"`
	HideBlacklistedFromSearch bool      `json:"hideBlacklistedFromSearch"`
}

// DefaultViewSettings returns newest-first ordering by modification time.
func DefaultViewSettings() ViewSettings {
	return ViewSettings{
		SortField:                 SortModified,
		Descending:                true,
		HideBlacklistedFromSearch: true,
	}
}

// BlacklistRule hides an album from views. A wildcard rule matches album
// labels with path.Match syntax; otherwise the rule matches AlbumID.
type BlacklistRule struct {
	ID       int64  `json:"id"`
	AlbumID  int64  `json:"albumId,omitempty"`
	Label    string `json:"label,omitempty"`
	Wildcard bool   `json:"wildcard,omitempty"`
}
