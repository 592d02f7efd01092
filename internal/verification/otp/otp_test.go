package otp

import (
	"regexp"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	encoded, err := Hash("483920")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !Verify("483920", encoded) {
		t.Fatalf("expected code to verify")
	}
	if Verify("483921", encoded) {
		t.Fatalf("expected wrong code to fail")
	}
	if Verify("48392", encoded) {
		t.Fatalf("expected short code to fail")
	}
	if Verify("483920", "not-a-hash") {
		t.Fatalf("expected malformed hash to fail")
	}

	again, err := Hash("483920")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if again == encoded {
		t.Fatalf("expected salted hashes to differ")
	}
}

func TestRandomGeneratesSixDigits(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{6}$`)
	gen := Random()
	for i := 0; i < 50; i++ {
		code, err := gen.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !pattern.MatchString(code) {
			t.Fatalf("unexpected code %q", code)
		}
	}
}

func TestFixedRepeatsLastCode(t *testing.T) {
	gen := &Fixed{"111111", "222222"}
	for _, want := range []string{"111111", "222222", "222222"} {
		got, err := gen.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}
