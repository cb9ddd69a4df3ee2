package variant

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Choco Kraft", "Choco Kraft"},
		{"  Keju  ", "Keju"},
		{"Keju Dan Choco Kraft", "Mix Choco Kraft Dan Keju"},
		{"Mix Keju Dan Choco Kraft", "Mix Choco Kraft Dan Keju"},
		{"Mix Choco Kraft Dan Keju", "Mix Choco Kraft Dan Keju"},
		{"Keju Dengan Coklat", "Mix Coklat Dan Keju"},
		{"Mix Tiramisu Dengan Green Tea", "Mix Green Tea Dan Tiramisu"},
		{"Mix  Keju  Dan  Coklat ", "Mix Coklat Dan Keju"},
		{"Pandan", "Pandan"},
		{"Dandelion Keju", "Dandelion Keju"},
		{"Keju Dan", "Keju Dan"},
		{"Mix Stroberi", "Mix Stroberi"},
		{"Mix C Dan A Dan B", "Mix A Dan B Dan C"},
		{"A Dan  Dan B", "Mix A Dan B"},
		{"Dan Dan DDen  Dan  ", "Mix DDen"},
		{"MixMix  Dan  Dan  Keju Dan ", "Mix Keju Dan MixMix"},
		{"Mix Dan", "Mix"},
		{"Mix Choco  Kraft Dan Keju", "Mix Choco Kraft Dan Keju"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

var corpus = []string{
	"", " ", "Keju", "Choco Kraft", "Keju Dan Choco Kraft", "Choco Kraft Dan Keju",
	"Mix Keju Dan Coklat", "Keju Dengan Coklat", "Mix", "Mix ", "Mix  Dan B",
	"Dan", " Dan ", "A Dan  Dan B", "Mix Dan X Dan Y", "Pandan Dan Dandang",
	"Mixed Berry", "Mix Mix Dan Mix", "Dengan", "DenDengangan",
	"Dan Dan DDen  Dan  ", "MixMix  Dan  Dan  Keju Dan ", "Mix Mix A Dan Z",
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, s := range corpus {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Fatalf("not idempotent for %q: once=%q twice=%q", s, once, twice)
		}
	}
}

func FuzzNormalize(f *testing.F) {
	for _, s := range corpus {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Fatalf("not idempotent for %q: once=%q twice=%q", s, once, twice)
		}
	})
}

func TestNormalize_SortInvariance(t *testing.T) {
	flavors := []string{"Keju", "Choco Kraft", "Tiramisu", "Green Tea", "Pandan"}
	for _, a := range flavors {
		for _, b := range flavors {
			if a == b {
				continue
			}
			ab := Normalize(MixPrefix + a + Separator + b)
			ba := Normalize(MixPrefix + b + Separator + a)
			if ab != ba {
				t.Fatalf("order matters for %q/%q: %q vs %q", a, b, ab, ba)
			}
		}
	}
}

func TestNormalize_LegacyAlias(t *testing.T) {
	pairs := [][2]string{{"Keju", "Coklat"}, {"Choco Kraft", "Keju"}, {"Z", "A"}}
	for _, p := range pairs {
		legacy := Normalize(p[0] + " Dengan " + p[1])
		current := Normalize(p[0] + " Dan " + p[1])
		if legacy != current {
			t.Fatalf("alias mismatch: %q vs %q", legacy, current)
		}
	}
}

func TestPack(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"Choco Kraft"}, "Choco Kraft"},
		{[]string{"Keju", "Choco Kraft"}, "Mix Choco Kraft Dan Keju"},
		{[]string{"Choco Kraft", "Keju"}, "Mix Choco Kraft Dan Keju"},
		{[]string{"Keju ", "Choco"}, "Mix Choco Dan Keju"},
		{[]string{" Keju Dengan Coklat "}, "Mix Coklat Dan Keju"},
		{[]string{"", "Keju", "  "}, "Keju"},
	}
	for _, tc := range cases {
		if got := Pack(tc.in); got != tc.want {
			t.Fatalf("Pack(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPack_MatchesNormalize(t *testing.T) {
	pairs := [][]string{
		{"Tiramisu", "Keju"},
		{"Keju ", "Choco"},
		{"Green Tea", " Keju Dengan"},
		{"Pandan", "Dandang"},
	}
	for _, in := range pairs {
		first := in[0]
		got := Pack(in)
		want := Normalize(in[0] + Separator + in[1])
		if got != want {
			t.Fatalf("Pack(%q)=%q Normalize=%q", in, got, want)
		}
		if in[0] != first {
			t.Fatalf("Pack must not reorder its input: %v", in)
		}
	}
}
