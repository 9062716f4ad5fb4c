package addr

import (
	"testing"

	"github.com/pkt-cash/pktd/chaincfg"
)

func TestValidateRejectsEmpty(t *testing.T) {
	if err := Validate("", &chaincfg.MainNetParams); err == nil {
		t.Fatal("expected InvalidAddress for empty string")
	} else if !InvalidAddress.Is(err) {
		t.Fatalf("expected InvalidAddress code, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if err := Validate("not-an-address", &chaincfg.MainNetParams); err == nil {
		t.Fatal("expected InvalidAddress for malformed string")
	}
}

func TestFromScriptNonStandard(t *testing.T) {
	// An empty script has no recognized form and therefore no address.
	if a := FromScript(nil, &chaincfg.MainNetParams); a != "" {
		t.Fatalf("expected no address for empty script, got %q", a)
	}
}
