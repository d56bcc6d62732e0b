package authz

import "errors"

var (
	// ErrStoreUnavailable indicates the configuration store could not be read.
	ErrStoreUnavailable = errors.New("authz: configuration store unavailable")
	// ErrMalformedConfig indicates a stored row violated the configuration schema.
	ErrMalformedConfig = errors.New("authz: malformed configuration data")
	// ErrUnknownModule indicates a module key outside the closed enumeration.
	ErrUnknownModule = errors.New("authz: unknown module")
	// ErrCacheCorrupt indicates a cached entry failed its shape check on read.
	ErrCacheCorrupt = errors.New("authz: corrupt cache entry")
)

// errorKind maps an engine error to the taxonomy label used in logs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrMalformedConfig):
		return "malformed_config"
	case errors.Is(err, ErrUnknownModule):
		return "unknown_module"
	case errors.Is(err, ErrCacheCorrupt):
		return "cache_corrupt"
	default:
		return "internal"
	}
}
