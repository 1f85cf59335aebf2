package auth

import (
	"testing"

	"github.com/nexora-systems/registry-central/pkg/store"
)

func TestRequestIdentityIdentifier(t *testing.T) {
	cases := []struct {
		name string
		ri   RequestIdentity
		want string
	}{
		{"client id and ip", RequestIdentity{ClientID: "abc", ClientIP: "1.2.3.4"}, "abc|1.2.3.4"},
		{"ip only", RequestIdentity{ClientIP: "1.2.3.4"}, "1.2.3.4"},
		{"neither", RequestIdentity{}, "unknown"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.ri.Identifier(); got != c.want {
				t.Errorf("Identifier() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestResolveClientIP(t *testing.T) {
	if got := ResolveClientIP("10.0.0.1, 10.0.0.2", "9.9.9.9:1234"); got != "10.0.0.1" {
		t.Errorf("forwarded-for should take the first entry, got %q", got)
	}
	if got := ResolveClientIP("", "9.9.9.9:1234"); got != "9.9.9.9" {
		t.Errorf("fallback to remote addr, got %q", got)
	}
}

func TestCallerIDDeterministic(t *testing.T) {
	a := CallerID(store.CallerConsumer, "abc|1.2.3.4")
	b := CallerID(store.CallerConsumer, "abc|1.2.3.4")
	if a != b {
		t.Fatalf("caller id not deterministic: %q vs %q", a, b)
	}
	if a == CallerID(store.CallerProvider, "abc|1.2.3.4") {
		t.Fatalf("caller id must depend on type")
	}
	const prefix = "consumer-"
	if len(a) != len(prefix)+16 {
		t.Fatalf("unexpected caller id length: %q", a)
	}
}

func TestClientIDPrefix(t *testing.T) {
	prefix, ok := ClientIDPrefix("abc|1.2.3.4")
	if !ok || prefix != "abc" {
		t.Fatalf("got (%q, %v), want (abc, true)", prefix, ok)
	}
	if _, ok := ClientIDPrefix("1.2.3.4"); ok {
		t.Fatalf("identifier without '|' should report ok=false")
	}
}
