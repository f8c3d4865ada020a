package models

import (
	"errors"
	"testing"
)

func TestIndexMode_Validate(t *testing.T) {
	if err := ModeFace.Validate(); err != nil {
		t.Errorf("face mode should validate: %v", err)
	}
	if err := ModeFullImage.Validate(); err != nil {
		t.Errorf("full_image mode should validate: %v", err)
	}
	if err := IndexMode("thumbnail").Validate(); !errors.Is(err, ErrConfig) {
		t.Errorf("unknown mode must be ErrConfig, got %v", err)
	}
}

func TestBBox(t *testing.T) {
	b := BBox{X1: 10, Y1: 20, X2: 110, Y2: 70}
	if b.Area() != 100*50 {
		t.Errorf("expected area 5000, got %d", b.Area())
	}
	if b.String() != "10,20,110,70" {
		t.Errorf("unexpected string: %s", b.String())
	}

	degenerate := BBox{X1: 50, Y1: 50, X2: 50, Y2: 60}
	if degenerate.Area() != 0 {
		t.Errorf("degenerate box must have area 0, got %d", degenerate.Area())
	}
	inverted := BBox{X1: 60, Y1: 60, X2: 50, Y2: 70}
	if inverted.Area() != 0 {
		t.Errorf("inverted box must have area 0, got %d", inverted.Area())
	}
}
