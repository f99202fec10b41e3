package types

import (
	"fmt"
	"slices"
)

// Face is one tracked identity: every detection believed to be the same person,
// oldest first. Detections are only ever appended.
type Face struct {
	Label      string
	Detections []Detection
}

// Add appends d. Detections must arrive in frame order; several detections from
// the same frame are allowed.
func (f *Face) Add(d Detection) error {
	if n := len(f.Detections); n > 0 && d.FrameIndex < f.Detections[n-1].FrameIndex {
		return fmt.Errorf("%s: detection from frame %d arrived after frame %d", f.Label, d.FrameIndex, f.Detections[n-1].FrameIndex)
	}
	f.Detections = append(f.Detections, d)
	return nil
}

// Last returns the most recent detection.
func (f *Face) Last() Detection {
	return f.Detections[len(f.Detections)-1]
}

func (f *Face) Summary() FaceSummary {
	s := FaceSummary{Label: f.Label, DetectionCount: len(f.Detections)}
	if len(f.Detections) > 0 {
		s.FirstFrame = f.Detections[0].FrameIndex
		s.LastFrame = f.Last().FrameIndex
	}
	return s
}

// Registry holds the faces found during one tracking run in the order they were
// first seen. It never shrinks, which is what keeps labels unique.
type Registry struct {
	faces []*Face
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Len() int { return len(r.faces) }

// Faces returns the faces in insertion order.
func (r *Registry) Faces() []*Face {
	return slices.Clone(r.faces)
}

func (r *Registry) Summary() []FaceSummary {
	out := make([]FaceSummary, 0, len(r.faces))
	for _, f := range r.faces {
		out = append(out, f.Summary())
	}
	return out
}

// Begin starts staging the work of one frame. Nothing is visible in the
// registry until Commit, so a frame that fails halfway leaves no trace.
func (r *Registry) Begin() *Tx {
	return &Tx{reg: r, appended: make(map[*Face][]Detection)}
}

// Tx is the staged registry mutation for a single frame.
type Tx struct {
	reg      *Registry
	appended map[*Face][]Detection
	created  []*Face
	done     bool
}

// Candidates returns the committed faces followed by faces created in this
// transaction, i.e. registry insertion order.
func (tx *Tx) Candidates() []*Face {
	out := make([]*Face, 0, len(tx.reg.faces)+len(tx.created))
	out = append(out, tx.reg.faces...)
	return append(out, tx.created...)
}

// Last returns f's most recent detection including staged ones.
func (tx *Tx) Last(f *Face) Detection {
	if staged := tx.appended[f]; len(staged) > 0 {
		return staged[len(staged)-1]
	}
	return f.Last()
}

// Append stages d onto f.
func (tx *Tx) Append(f *Face, d Detection) {
	if slices.Contains(tx.created, f) {
		f.Detections = append(f.Detections, d)
		return
	}
	tx.appended[f] = append(tx.appended[f], d)
}

// Create stages a new face seeded with d. The label accounts for faces created
// earlier in the same transaction.
func (tx *Tx) Create(d Detection) *Face {
	f := &Face{
		Label:      fmt.Sprintf("face_%d", len(tx.reg.faces)+len(tx.created)+1),
		Detections: []Detection{d},
	}
	tx.created = append(tx.created, f)
	return f
}

// Commit applies the staged work. A transaction can be committed once.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true
	for _, f := range tx.reg.faces {
		for _, d := range tx.appended[f] {
			if err := f.Add(d); err != nil {
				return err
			}
		}
	}
	tx.reg.faces = append(tx.reg.faces, tx.created...)
	return nil
}

// Discard drops the staged work.
func (tx *Tx) Discard() {
	tx.done = true
	tx.appended = nil
	tx.created = nil
}
