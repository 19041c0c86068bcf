package textnorm

import "testing"

func TestKey(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  Chest   PAIN ", "chest pain"},
		{"Ibuprofen\t400mg", "ibuprofen 400mg"},
		{"\uff33\uff30\uff2f\uff12", "spo2"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Key(tc.in); got != tc.want {
			t.Errorf("Key(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestContainsPhrase(t *testing.T) {
	text := "Seventy three year old with Chest  Pain and HR of 190."
	if !ContainsPhrase(text, "chest pain") {
		t.Fatal("expected chest pain match")
	}
	if !ContainsPhrase(text, "hr") {
		t.Fatal("expected hr match on word boundary")
	}
	if ContainsPhrase(text, "three year old with chest pains") {
		t.Fatal("did not expect partial-word match")
	}
	if ContainsPhrase("threefold", "three") {
		t.Fatal("did not expect match inside a word")
	}
	if ContainsPhrase(text, "") {
		t.Fatal("empty phrase never matches")
	}
}

func TestMatcher(t *testing.T) {
	m := NewMatcher("Patient is UNRESPONSIVE, no pulse")
	if !m.Contains("unresponsive") || !m.Contains("no pulse") {
		t.Fatal("expected both markers")
	}
	if m.Contains("pulseless") {
		t.Fatal("unexpected match")
	}
}
