package wire

import "testing"

func TestResolutionDimensions(t *testing.T) {
	cases := []struct {
		r              Resolution
		width, height int
	}{
		{QCIF, 176, 144},
		{VGA, 640, 480},
		{HD1080, 1920, 1080},
	}
	for _, c := range cases {
		w, h := c.r.Dimensions()
		if w != c.width || h != c.height {
			t.Errorf("%s: got %dx%d, want %dx%d", c.r, w, h, c.width, c.height)
		}
	}
}

func TestResolutionStepBounds(t *testing.T) {
	if QCIF.StepDown() != QCIF {
		t.Errorf("QCIF should not step below itself")
	}
	if HD1080.StepUp(HD1080) != HD1080 {
		t.Errorf("HD1080 should not step above ceiling")
	}
	if VGA.StepUp(XGA) != SVGA {
		t.Errorf("expected SVGA, got %s", VGA.StepUp(XGA))
	}
	if VGA.StepDown() != QVGA {
		t.Errorf("expected QVGA, got %s", VGA.StepDown())
	}
}

func TestResolutionClamp(t *testing.T) {
	if got := HD1080.Clamp(VGA); got != VGA {
		t.Errorf("expected clamp to VGA, got %s", got)
	}
	if got := QCIF.Clamp(VGA); got != QCIF {
		t.Errorf("expected QCIF unclamped, got %s", got)
	}
}

func TestParseResolutionInvalid(t *testing.T) {
	if _, err := ParseResolution(200); err == nil {
		t.Fatal("expected error for out-of-range resolution index")
	}
}
