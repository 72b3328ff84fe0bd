package codebook

import (
	"fmt"
	"strconv"
	"strings"
)

// Fingerprint captures every configuration value that invalidates a built
// codebook. Two runs with equal fingerprints may reuse the same artifact;
// any difference requires a rebuild.
type Fingerprint struct {
	DatasetID    string
	LocalModel   string
	GlobalModel  string
	LocalDim     int
	GlobalDim    int
	Lambda       float64
	SnapToTrain  bool
	MaxPixelDist float64
	Precision    Precision
}

// String renders the canonical single-line form stored in the codebook
// file and compared on load.
func (f Fingerprint) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "dataset=%s", f.DatasetID)
	fmt.Fprintf(&sb, "|local=%s:%d", f.LocalModel, f.LocalDim)
	fmt.Fprintf(&sb, "|global=%s:%d", f.GlobalModel, f.GlobalDim)
	fmt.Fprintf(&sb, "|lambda=%s", strconv.FormatFloat(f.Lambda, 'g', -1, 64))
	fmt.Fprintf(&sb, "|snap=%t", f.SnapToTrain)
	fmt.Fprintf(&sb, "|px=%s", strconv.FormatFloat(f.MaxPixelDist, 'g', -1, 64))
	fmt.Fprintf(&sb, "|precision=%s", f.Precision)
	return sb.String()
}
