package types

import (
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBoxFromFloats(t *testing.T) {
	got := BoxFromFloats(10.9, 20.2, 30.999, 0.5)
	want := BoundingBox{X: 10, Y: 20, Width: 30, Height: 0}
	if got != want {
		t.Errorf("BoxFromFloats() = %v, want %v", got, want)
	}
}

func TestParseBox(t *testing.T) {
	tests := []struct {
		in      string
		want    BoundingBox
		wantErr bool
	}{
		{in: "1,2,3,4", want: BoundingBox{1, 2, 3, 4}},
		{in: " -5, 6 ,7,8", want: BoundingBox{-5, 6, 7, 8}},
		{in: "1,2,3", wantErr: true},
		{in: "a,b,c,d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBox(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedBoundingBox) {
					t.Fatalf("expected MalformedBoundingBox, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ParseBox(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)
	tests := []struct {
		name string
		box  BoundingBox
		want image.Rectangle
	}{
		{"inside", BoundingBox{10, 10, 20, 20}, image.Rect(10, 10, 30, 30)},
		{"negative origin", BoundingBox{-10, -5, 30, 30}, image.Rect(0, 0, 20, 25)},
		{"past the edge", BoundingBox{90, 70, 50, 50}, image.Rect(90, 70, 100, 80)},
		{"fully outside", BoundingBox{200, 200, 10, 10}, image.Rectangle{}},
		{"zero size", BoundingBox{10, 10, 0, 5}, image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Clamp(bounds); got != tt.want {
				t.Errorf("Clamp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := (BoundingBox{0, 0, 0, 0}).Validate(); err != nil {
		t.Errorf("zero box should be valid: %v", err)
	}
	err := (BoundingBox{0, 0, -1, 4}).Validate()
	if KindOf(err) != KindMalformedBoundingBox {
		t.Errorf("expected MalformedBoundingBox, got %v", err)
	}
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("handler: %w", Errorf(KindInvalidStyle, nil, "unknown style %q", "sparkle"))
	if !errors.Is(err, ErrInvalidStyle) {
		t.Error("expected errors.Is to match the InvalidStyle sentinel")
	}
	if errors.Is(err, ErrBackendUnavailable) {
		t.Error("kinds must not cross-match")
	}
	if KindOf(err) != KindInvalidStyle {
		t.Errorf("KindOf() = %q", KindOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors have no kind")
	}
}

func det(frame int) Detection {
	return Detection{FrameIndex: frame}
}

func TestFaceAddKeepsFrameOrder(t *testing.T) {
	f := &Face{Label: "face_1"}
	for _, i := range []int{0, 15, 15, 30} {
		if err := f.Add(det(i)); err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
	}
	if err := f.Add(det(10)); err == nil {
		t.Fatal("expected out-of-order detection to be rejected")
	}
	if len(f.Detections) != 4 {
		t.Errorf("rejected detection must not be stored, have %d", len(f.Detections))
	}
	if f.Last().FrameIndex != 30 {
		t.Errorf("Last() = frame %d, want 30", f.Last().FrameIndex)
	}
}

func TestTxCommit(t *testing.T) {
	r := NewRegistry()

	tx := r.Begin()
	a := tx.Create(det(0))
	b := tx.Create(det(0))
	if r.Len() != 0 {
		t.Fatal("staged faces must not be visible before commit")
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if a.Label != "face_1" || b.Label != "face_2" {
		t.Errorf("labels = %q, %q", a.Label, b.Label)
	}

	tx = r.Begin()
	tx.Append(a, det(15))
	if got := tx.Last(a).FrameIndex; got != 15 {
		t.Errorf("Last() should see staged detection, got frame %d", got)
	}
	c := tx.Create(det(15))
	if got := len(tx.Candidates()); got != 3 {
		t.Errorf("Candidates() = %d faces, want 3", got)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if c.Label != "face_3" {
		t.Errorf("label = %q, want face_3", c.Label)
	}

	want := []FaceSummary{
		{Label: "face_1", DetectionCount: 2, FirstFrame: 0, LastFrame: 15},
		{Label: "face_2", DetectionCount: 1, FirstFrame: 0, LastFrame: 0},
		{Label: "face_3", DetectionCount: 1, FirstFrame: 15, LastFrame: 15},
	}
	if diff := cmp.Diff(want, r.Summary()); diff != "" {
		t.Errorf("Summary() mismatch (-want +got):\n%s", diff)
	}
	if err := tx.Commit(); err == nil {
		t.Error("second commit should fail")
	}
}

func TestTxDiscard(t *testing.T) {
	r := NewRegistry()
	tx := r.Begin()
	f := tx.Create(det(0))
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	tx = r.Begin()
	tx.Append(f, det(15))
	tx.Create(det(15))
	tx.Discard()

	if r.Len() != 1 {
		t.Errorf("discarded face leaked into registry: %d faces", r.Len())
	}
	if len(f.Detections) != 1 {
		t.Errorf("discarded detection leaked into face: %d detections", len(f.Detections))
	}

	// Labels continue from the committed size.
	tx = r.Begin()
	if g := tx.Create(det(30)); g.Label != "face_2" {
		t.Errorf("label = %q, want face_2", g.Label)
	}
}

func TestRegistryLabelsUnique(t *testing.T) {
	r := NewRegistry()
	for frame := 0; frame < 50; frame += 5 {
		tx := r.Begin()
		for i := 0; i < frame%3+1; i++ {
			tx.Create(det(frame))
		}
		if frame%2 == 0 {
			tx.Discard()
			continue
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}
	seen := map[string]bool{}
	for _, f := range r.Faces() {
		if seen[f.Label] {
			t.Fatalf("duplicate label %q", f.Label)
		}
		seen[f.Label] = true
	}
}
