package quadtree

// Error types carried by tree operation failures, matchable with
// errors.IsType.
const (
	ErrTypeInvalidArgument = "quadtree_invalid_argument"
	ErrTypeOutOfBounds     = "quadtree_key_out_of_bounds"
	ErrTypeDuplicateKey    = "quadtree_duplicate_key"
	ErrTypeKeyNotFound     = "quadtree_key_not_found"
	ErrTypeKeyMismatch     = "quadtree_key_mismatch"
)
