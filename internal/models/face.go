package models

// Point3D is an (x, y, z) landmark sample. Z is a pseudo-depth relative to
// the face plane, meaningful only when MeshRaw is populated by a true mesh
// model; our approximation (internal/faceanalyzer/mesh.go) derives it
// heuristically.
type Point3D struct {
	X, Y, Z float64
}

// Point2D is a plain 2D landmark sample.
type Point2D struct {
	X, Y float64
}

// Rotation is head pose in degrees.
type Rotation struct {
	Yaw, Pitch, Roll float64
}

// Well-known mesh index groups used by the Photo-Attack Detector (§4.5).
// Indices follow the FaceAnalyzer's documented 468-point topology.
var (
	MeshGroupNear = []int{1, 4, 6, 195}
	MeshGroupMid  = []int{127, 356}
	MeshGroupFar  = []int{162, 389}
)

// FaceObservation is the per-frame output of the FaceAnalyzer dependency.
type FaceObservation struct {
	Box         Box
	MeshRaw     []Point3D            // length >= 468 when a mesh model is present
	Annotations map[string][]Point2D // named landmark groups, e.g. "leftEye"
	Rotation    Rotation
	Real        *float64 // [0,1], nil if the backend doesn't provide one
	Live        *float64 // [0,1], nil if the backend doesn't provide one
	Gestures    []string
	Embedding   []float32 // optional, for the embedding-consistency cross-check
}

// MeshPoint looks up a 468-point mesh index, returning ok=false when the
// mesh is absent or the index is out of range — absence is a first-class
// case, never an error (spec.md §9).
func (f FaceObservation) MeshPoint(idx int) (Point3D, bool) {
	if idx < 0 || idx >= len(f.MeshRaw) {
		return Point3D{}, false
	}
	return f.MeshRaw[idx], true
}

// Landmarks returns a named annotation group, or (nil, false) if absent.
func (f FaceObservation) Landmarks(group string) ([]Point2D, bool) {
	pts, ok := f.Annotations[group]
	return pts, ok
}
