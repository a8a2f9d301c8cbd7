package granule

import "errors"

var (
	// ErrInvalidInputProduct is returned when an acquisition identifier lacks
	// the IW SLC product-type marker or cannot be parsed.
	ErrInvalidInputProduct = errors.New("invalid input product")

	// ErrMalformedName is returned when an identifier does not follow the
	// Sentinel-1 naming grammar.
	ErrMalformedName = errors.New("malformed acquisition name")

	// ErrUnsupportedPolarization is returned for polarization codes with no
	// processing channel.
	ErrUnsupportedPolarization = errors.New("unsupported polarization")
)
