package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestHashVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	h, err := Hash("p@ssw0rd")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "argon2id$") {
		t.Fatalf("unexpected encoding: %s", h)
	}
	ok, err := Verify("p@ssw0rd", h)
	if err != nil || !ok {
		t.Fatalf("verify correct password: ok=%v err=%v", ok, err)
	}
	ok, err = Verify("wrong", h)
	if err != nil || ok {
		t.Fatalf("verify wrong password: ok=%v err=%v", ok, err)
	}
}

func TestHash_SaltedPerCall(t *testing.T) {
	t.Parallel()

	a, _ := Hash("same")
	b, _ := Hash("same")
	if a == b {
		t.Fatalf("two hashes of the same password are equal")
	}
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	for _, enc := range []string{
		"",
		"bcrypt$x$y$z",
		"argon2id$t=x$AAAA$AAAA",
		"argon2id$t=1,m=1024,p=1$!!$AAAA",
		"argon2id$t=1,m=1024,p=1$AAAA$",
	} {
		if _, err := Verify("pw", enc); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("%q: want ErrMalformedHash, got %v", enc, err)
		}
	}
}
