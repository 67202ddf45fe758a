package usage

import "testing"

func TestArgShapeIgnoresValues(t *testing.T) {
	a := ArgShape(map[string]interface{}{"city": "Boston", "days": 3})
	b := ArgShape(map[string]interface{}{"city": "Tokyo", "days": 99})
	if a != b {
		t.Errorf("same names, different values: %q vs %q", a, b)
	}
}

func TestArgShapeOrderIndependent(t *testing.T) {
	// Map iteration order is random; repeated computation must be stable.
	args := map[string]interface{}{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5}
	first := ArgShape(args)
	for i := 0; i < 20; i++ {
		if got := ArgShape(args); got != first {
			t.Fatalf("iteration %d: %q != %q", i, got, first)
		}
	}
}

func TestArgShapeDistinguishesNames(t *testing.T) {
	a := ArgShape(map[string]interface{}{"city": "x"})
	b := ArgShape(map[string]interface{}{"location": "x"})
	if a == b {
		t.Error("different argument names should fingerprint differently")
	}
}

func TestArgShapeEmpty(t *testing.T) {
	if got := ArgShape(nil); got != "" {
		t.Errorf("ArgShape(nil) = %q, want empty", got)
	}
	if got := ArgShape(map[string]interface{}{}); got != "" {
		t.Errorf("ArgShape(empty) = %q, want empty", got)
	}
}
