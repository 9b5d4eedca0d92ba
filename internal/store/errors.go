package store

import "errors"

// ErrVectorSearchUnavailable is returned when the sqlite-vec extension
// is not compiled in, the vec0 probe failed, or the run has no
// embedding to search with.
var ErrVectorSearchUnavailable = errors.New("vector search unavailable")
