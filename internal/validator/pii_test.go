package validator

import "testing"

func TestPIIScannerDetectsEmail(t *testing.T) {
	s := NewPIIScanner(nil)
	if !s.HasPII("you can reach jane.doe@example.com for details") {
		t.Error("expected email to be detected")
	}
}

func TestPIIScannerDetectsPhone(t *testing.T) {
	s := NewPIIScanner(nil)
	if !s.HasPII("call me at +1 (415) 555-0172 tomorrow") {
		t.Error("expected phone number to be detected")
	}
}

func TestPIIScannerDetectsStructuredIdentifiers(t *testing.T) {
	s := NewPIIScanner(nil)
	if !s.HasPII("your SSN 123-45-6789 is on file") {
		t.Error("expected SSN pattern to be detected")
	}
	if !s.HasPII("account 1234567890123456 was charged") {
		t.Error("expected long digit run to be detected")
	}
}

func TestPIIScannerCleanText(t *testing.T) {
	s := NewPIIScanner(nil)
	if s.HasPII("Your order will arrive in 3 to 5 business days.") {
		t.Error("clean text flagged as PII")
	}
}

func TestPIIScannerAllowlist(t *testing.T) {
	s := NewPIIScanner([]string{"support@convogate.example", "+1 800 555 0100"})
	if s.HasPII("Email support@convogate.example or call +1 800 555 0100.") {
		t.Error("institutional contacts must not be flagged")
	}
	if !s.HasPII("Email support@convogate.example or jane.doe@example.com.") {
		t.Error("non-allowlisted email alongside allowlisted one must be flagged")
	}
}

func TestPIIScannerScanKinds(t *testing.T) {
	s := NewPIIScanner(nil)
	kinds := s.Scan("jane@example.com, 123-45-6789")
	want := map[string]bool{"email": false, "structured_identifier": false}
	for _, k := range kinds {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("expected kind %q in %v", k, kinds)
		}
	}
}
