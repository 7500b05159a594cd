package fixedpoint

import (
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
)

// fp is a test helper for creating values from decimal strings.
func fp(s string) FP {
	return MustFromDec(s)
}

func maxFP() FP {
	var v uint256.Int
	v.SetAllOne()
	return FromRaw(&v)
}

// --- Constructors ---

func TestFromDec(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1", "1"},
		{"0.05", "0.05"},
		{"1000", "1000"},
		{"0.333333333333333333", "0.333333333333333333"},
		// Truncation beyond 18 places, toward zero.
		{"0.0000000000000000019", "0.000000000000000001"},
	}
	for _, tt := range tests {
		got, err := FromDec(tt.in)
		if err != nil {
			t.Fatalf("FromDec(%q): %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("FromDec(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFromDec_Negative(t *testing.T) {
	if _, err := FromDec("-1"); err != ErrNegative {
		t.Errorf("expected ErrNegative, got %v", err)
	}
}

func TestFromDec_Garbage(t *testing.T) {
	if _, err := FromDec("not-a-number"); err == nil {
		t.Error("expected parse error")
	}
}

func TestFromUint64(t *testing.T) {
	v, err := FromUint64(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Eq(fp("2")) {
		t.Errorf("FromUint64(2) = %s, want 2", v)
	}
}

// --- Checked add/sub ---

func TestAdd(t *testing.T) {
	sum, err := fp("1.5").Add(fp("2.25"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sum.Eq(fp("3.75")) {
		t.Errorf("1.5 + 2.25 = %s, want 3.75", sum)
	}
}

func TestAdd_Overflow(t *testing.T) {
	if _, err := maxFP().Add(FromRaw(uint256.NewInt(1))); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestSub(t *testing.T) {
	diff, err := One().Sub(fp("0.95"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !diff.Eq(fp("0.05")) {
		t.Errorf("1 - 0.95 = %s, want 0.05", diff)
	}
}

func TestSub_Underflow(t *testing.T) {
	if _, err := Zero().Sub(One()); err != ErrUnderflow {
		t.Errorf("expected ErrUnderflow, got %v", err)
	}
}

// --- MulDivDown / rounding direction ---

func TestMulDivDown_FloorsTowardZero(t *testing.T) {
	// Raw-level: (7 * 3) / 2 = 10.5 -> 10
	a := FromRaw(uint256.NewInt(7))
	b := FromRaw(uint256.NewInt(3))
	c := FromRaw(uint256.NewInt(2))

	got, err := a.MulDivDown(b, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(FromRaw(uint256.NewInt(10))) {
		t.Errorf("mulDivDown(7,3,2) = %s raw, want 10", got.Raw())
	}

	up, err := a.MulDivUp(b, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !up.Eq(FromRaw(uint256.NewInt(11))) {
		t.Errorf("mulDivUp(7,3,2) = %s raw, want 11", up.Raw())
	}
}

func TestMulDivDown_ExactNoRounding(t *testing.T) {
	// (6 * 3) / 2 = 9 exactly; up and down must agree.
	a := FromRaw(uint256.NewInt(6))
	b := FromRaw(uint256.NewInt(3))
	c := FromRaw(uint256.NewInt(2))

	down, _ := a.MulDivDown(b, c)
	up, _ := a.MulDivUp(b, c)
	if !down.Eq(up) {
		t.Errorf("exact quotient must not round: down=%s up=%s", down.Raw(), up.Raw())
	}
}

func TestMulDivDown_IntermediateOverflow(t *testing.T) {
	// max * max would overflow 256 bits, but dividing by max keeps the
	// result in range — the 512-bit intermediate must make this work.
	m := maxFP()
	got, err := m.MulDivDown(m, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(m) {
		t.Errorf("mulDivDown(max,max,max) = %s, want max", got.Raw())
	}
}

func TestMulDivDown_DivisionByZero(t *testing.T) {
	if _, err := One().MulDivDown(One(), Zero()); err != ErrDivisionByZero {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestMulDivDown_ResultOverflow(t *testing.T) {
	if _, err := maxFP().MulDivDown(maxFP(), FromRaw(uint256.NewInt(1))); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

// --- Fixed-point multiply/divide ---

func TestMulDown(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"0.5", "0.5", "0.25"},
		{"1.5", "2", "3"},
		{"0.01", "0.05", "0.0005"},
		{"1000", "0", "0"},
	}
	for _, tt := range tests {
		got, err := fp(tt.a).MulDown(fp(tt.b))
		if err != nil {
			t.Fatalf("%s * %s: %v", tt.a, tt.b, err)
		}
		if !got.Eq(fp(tt.want)) {
			t.Errorf("%s * %s = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDivDown_Floors(t *testing.T) {
	got, err := One().DivDown(fp("3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "0.333333333333333333" {
		t.Errorf("1/3 down = %s", got)
	}

	up, err := One().DivUp(fp("3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up.String() != "0.333333333333333334" {
		t.Errorf("1/3 up = %s", up)
	}
}

func TestDivDown_ByZero(t *testing.T) {
	if _, err := One().DivDown(Zero()); err != ErrDivisionByZero {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

// --- Codecs ---

func TestJSONRoundTrip(t *testing.T) {
	in := fp("0.050000000000000001")
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out FP
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Eq(in) {
		t.Errorf("round trip: got %s, want %s", out, in)
	}
}

func TestUnmarshalJSON_BareNumber(t *testing.T) {
	var v FP
	if err := json.Unmarshal([]byte(`1.5`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !v.Eq(fp("1.5")) {
		t.Errorf("got %s, want 1.5", v)
	}
}

func TestScan(t *testing.T) {
	var v FP
	if err := v.Scan("0.05"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !v.Eq(fp("0.05")) {
		t.Errorf("got %s, want 0.05", v)
	}
}

func TestDecimalDisplay(t *testing.T) {
	if got := fp("0.5").Decimal().String(); got != "0.5" {
		t.Errorf("display = %s, want 0.5", got)
	}
}
