package tabular

// Meta is the file-level metadata obtainable without reading row data.
type Meta struct {
	// Path is the file path the metadata was read from.
	Path string `json:"path"`
	// SizeBytes is the file size on disk.
	SizeBytes int64 `json:"size_bytes"`
	// Rows is the total row count.
	Rows int64 `json:"rows"`
	// RowGroups is the number of row groups in the file.
	RowGroups int `json:"row_groups"`
	// Schema is the ordered column list.
	Schema []Field `json:"schema"`
}

// Reader opens columnar files. OpenMeta must not load row data; Read loads
// up to limit rows (all rows when limit <= 0).
type Reader interface {
	OpenMeta(path string) (*Meta, error)
	Read(path string, limit int) (*Table, error)
}
