package granule

import "fmt"

// ProductClass is the polarization/product-type descriptor of an acquisition.
type ProductClass string

const (
	DualVV   ProductClass = "SDV"
	DualHH   ProductClass = "SDH"
	SingleVV ProductClass = "SSV"
	SingleHH ProductClass = "SSH"
)

// Descriptor pairs a product class with the polarization channel to process.
type Descriptor struct {
	Class ProductClass
	Pol   string
	// CrossPol is set when the cross-polarized channel was selected.
	CrossPol bool
}

var defaultChannel = map[ProductClass]string{
	DualVV:   "vv",
	DualHH:   "hh",
	SingleVV: "vv",
	SingleHH: "hh",
}

var crossChannel = map[ProductClass]string{
	DualVV: "vh",
	DualHH: "hv",
}

// Describe derives the product class and default co-polarized channel.
func (n *Name) Describe() (Descriptor, error) {
	class := ProductClass(n.Class + n.Polarization)
	pol, ok := defaultChannel[class]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s in %s", ErrUnsupportedPolarization, class, n.Raw)
	}
	return Descriptor{Class: class, Pol: pol}, nil
}

// WithCrossPol switches a dual-pol descriptor to its cross-polarized
// channel. Single-pol descriptors are returned unchanged and ok is false.
func (d Descriptor) WithCrossPol() (Descriptor, bool) {
	pol, ok := crossChannel[d.Class]
	if !ok {
		return d, false
	}
	d.Pol = pol
	d.CrossPol = true
	return d, true
}
