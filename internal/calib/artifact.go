package calib

import "fmt"

// Artifact is a sealed interface over calibration payload types. Only
// *Image, *SlitSet, *WaveCalib, *TiltModel, *FlatPair, and MaskVec implement
// it; the cache rejects any (product, payload) pairing outside the fixed
// mapping in payloadOK.
//
// Artifacts are treated as immutable once cached, with two deliberate
// exceptions: the slit set's quality mask grows through MergeMask, and the
// flat build may tweak slit edge traces (see FlatFielder).
type Artifact interface {
	artifact() // sealed
}

// Image is a 2-D detector-sized array: NSpec rows (spectral) by NSpat
// columns (spatial), row-major. A nil Data slice marks a null image, e.g. a
// "no bias subtraction" bias.
type Image struct {
	NSpec int      `json:"nspec"`
	NSpat int      `json:"nspat"`
	Data  []float64 `json:"data"`

	// Files lists the raw inputs stacked into the image. Informational.
	Files []string `json:"files,omitempty"`
}

func (*Image) artifact() {}

// NewImage allocates a zero-filled image.
func NewImage(nspec, nspat int) *Image {
	return &Image{NSpec: nspec, NSpat: nspat, Data: make([]float64, nspec*nspat)}
}

// Empty reports whether the image carries no pixel data.
func (im *Image) Empty() bool {
	return im == nil || len(im.Data) == 0
}

// At returns the pixel at spectral row i, spatial column j.
func (im *Image) At(i, j int) float64 {
	return im.Data[i*im.NSpat+j]
}

// Set writes the pixel at spectral row i, spatial column j.
func (im *Image) Set(i, j int, v float64) {
	im.Data[i*im.NSpat+j] = v
}

func (im *Image) String() string {
	if im.Empty() {
		return "Image{null}"
	}
	return fmt.Sprintf("Image{%dx%d, %d files}", im.NSpec, im.NSpat, len(im.Files))
}

// SlitSet holds traced slit edges and the per-slit quality mask that
// downstream calibrations accumulate into via MergeMask.
type SlitSet struct {
	NSpec  int `json:"nspec"`
	NSpat  int `json:"nspat"`
	NSlits int `json:"nslits"`

	// Left and Right hold one spatial trace per slit, each NSpec long.
	Left  [][]float64 `json:"left"`
	Right [][]float64 `json:"right"`

	// LeftTweak and RightTweak are set when the flat-field build adjusted
	// the edges; nil until then.
	LeftTweak  [][]float64 `json:"left_tweak,omitempty"`
	RightTweak [][]float64 `json:"right_tweak,omitempty"`

	// Mask flags bad slits, one entry per slit.
	Mask MaskVec `json:"mask"`
}

func (*SlitSet) artifact() {}

func (s *SlitSet) String() string {
	return fmt.Sprintf("SlitSet{%d slits, %d masked}", s.NSlits, s.Mask.CountSet())
}

// WaveCalib holds per-slit wavelength solutions. A nil *WaveCalib is a
// legitimate value: pixel-reference reductions carry no wavelength
// calibration at all.
type WaveCalib struct {
	// Reference is the wavelength reference the solutions are tied to.
	Reference string `json:"reference"`

	Solutions []WaveSolution `json:"solutions"`
}

func (*WaveCalib) artifact() {}

// WaveSolution is one slit's wavelength solution: a polynomial in the
// spectral pixel coordinate.
type WaveSolution struct {
	Slit   int       `json:"slit"`
	Coeffs []float64 `json:"coeffs"`
	RMS    float64   `json:"rms"`
	OK     bool      `json:"ok"`
}

// Eval evaluates the solution at spectral pixel y.
func (w WaveSolution) Eval(y float64) float64 {
	v, pow := 0.0, 1.0
	for _, c := range w.Coeffs {
		v += c * pow
		pow *= y
	}
	return v
}

// TiltModel is the fitted description of how arc lines tilt across each
// slit. Field holds the fractional spectral position of every pixel,
// in [0, 1].
type TiltModel struct {
	Field     *Image `json:"field"`
	SpatOrder int    `json:"spat_order"`
	SpecOrder int    `json:"spec_order"`
}

func (*TiltModel) artifact() {}

// FlatPair bundles the two flat-field outputs. Either member may be nil;
// an all-nil pair records "flats were resolved, nothing usable came out".
type FlatPair struct {
	Pixel *Image `json:"pixel"`
	Illum *Image `json:"illum"`
}

func (*FlatPair) artifact() {}

func (f *FlatPair) String() string {
	return fmt.Sprintf("FlatPair{pixel=%v, illum=%v}", !f.Pixel.Empty(), !f.Illum.Empty())
}
