package regions

import (
	"bytes"
	"image"
	"image/color"
	"reflect"
	"testing"

	pii "github.com/hannes/safeshare/pii/detectors"
)

func regionTypes(regions []pii.Region) []string {
	types := make([]string, 0, len(regions))
	for _, r := range regions {
		types = append(types, r.Type)
	}
	return types
}

func TestGetRedactionRegions(t *testing.T) {
	tests := []struct {
		name  string
		types []string
		want  []string
	}{
		{"empty", nil, []string{}},
		{"single ssn", []string{"ssn"}, []string{"ssn"}},
		{"three categories add comprehensive", []string{"ssn", "credit_card", "face"}, []string{"ssn", "credit_card", "face", "comprehensive"}},
		{"email and phone share contact region", []string{"email", "phone"}, []string{"contact_info"}},
		{"email phone and address", []string{"email", "phone", "address"}, []string{"contact_info", "address", "comprehensive"}},
		{"unknown category", []string{"license_plate"}, []string{"comprehensive"}},
		{"unspecified positive", []string{"unspecified"}, []string{"comprehensive"}},
		{"unknown plus known", []string{"face", "tattoo", "signature"}, []string{"face", "comprehensive"}},
		{"duplicates", []string{"face", "face", "Face"}, []string{"face"}},
		{"aliases", []string{"Social Security Number", "e-mail"}, []string{"ssn", "contact_info"}},
		{"id card", []string{"id_card"}, []string{"id_card"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetRedactionRegions(tt.types)
			if got == nil {
				t.Fatal("GetRedactionRegions() returned nil")
			}
			if types := regionTypes(got); !reflect.DeepEqual(types, tt.want) {
				t.Errorf("region types = %v, want %v", types, tt.want)
			}
		})
	}
}

func TestGetRedactionRegions_Coverage(t *testing.T) {
	got := GetRedactionRegions([]string{"ssn", "credit_card", "face"})
	last := got[len(got)-1]
	want := pii.Region{Type: "comprehensive", X: 0.02, Y: 0.02, Width: 0.96, Height: 0.96}
	if last != want {
		t.Errorf("comprehensive region = %+v, want %+v", last, want)
	}
}

func TestGetRedactionRegions_Idempotent(t *testing.T) {
	inputs := [][]string{
		{"ssn", "credit_card", "face"},
		{"email", "phone"},
		{"unknown"},
		{},
	}
	for _, in := range inputs {
		first := GetRedactionRegions(in)
		second := GetRedactionRegions(in)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("GetRedactionRegions(%v) not deterministic: %v vs %v", in, first, second)
		}
	}
}

func TestGetRedactionRegions_Normalized(t *testing.T) {
	all := append([]string{}, pii.KnownCategories...)
	for _, r := range GetRedactionRegions(all) {
		if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 || r.X+r.Width > 1 || r.Y+r.Height > 1 {
			t.Errorf("region %+v is outside the unit square", r)
		}
	}
}

func TestPixelRect(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)
	got := PixelRect(pii.Region{X: 0.25, Y: 0.5, Width: 0.5, Height: 0.5}, bounds)
	if want := image.Rect(50, 50, 150, 100); got != want {
		t.Errorf("PixelRect() = %v, want %v", got, want)
	}

	clamped := PixelRect(pii.Region{X: 0.9, Y: 0.9, Width: 0.5, Height: 0.5}, bounds)
	if want := image.Rect(180, 90, 200, 100); clamped != want {
		t.Errorf("PixelRect() clamped = %v, want %v", clamped, want)
	}
}

func TestRedact(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	// checkerboard so pixelation is observable
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if (x+y)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{A: 255})
			}
		}
	}

	out := Redact(img, []pii.Region{{Type: "face", X: 0, Y: 0, Width: 0.5, Height: 0.5}}, 4)

	cell := out.RGBAAt(0, 0)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if out.RGBAAt(x, y) != cell {
				t.Fatalf("pixel (%d,%d) = %v, want uniform %v", x, y, out.RGBAAt(x, y), cell)
			}
		}
	}
	if cell.R != 127 {
		t.Errorf("average red = %d, want 127", cell.R)
	}
	if out.RGBAAt(5, 5) != img.RGBAAt(5, 5) || out.RGBAAt(6, 5) != img.RGBAAt(6, 5) {
		t.Error("pixels outside the region must be untouched")
	}
	if img.RGBAAt(0, 0).R != 255 {
		t.Error("source image must not be modified")
	}
}

func TestEncodeDecodeImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := EncodeImage(&buf, img, "png"); err != nil {
		t.Fatalf("EncodeImage() error = %v", err)
	}
	decoded, format, err := DecodeImage(&buf)
	if err != nil {
		t.Fatalf("DecodeImage() error = %v", err)
	}
	if format != "png" || decoded.Bounds() != img.Bounds() {
		t.Errorf("decoded %s %v, want png %v", format, decoded.Bounds(), img.Bounds())
	}
	if err := EncodeImage(&buf, img, "gif"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
