package privacy

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestScrubberMasksPatterns(t *testing.T) {
	scrubber, err := NewScrubber(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create scrubber: %v", err)
	}

	text := "Reached at 555-123-4567, SSN 123-45-6789, chart MRN-20041177"
	scrubbed := scrubber.Scrub(text)

	if strings.Contains(scrubbed, "123-45-6789") {
		t.Fatalf("SSN survived scrub: %q", scrubbed)
	}
	if strings.Contains(scrubbed, "555-123-4567") {
		t.Fatalf("phone survived scrub: %q", scrubbed)
	}
	if strings.Contains(scrubbed, "20041177") {
		t.Fatalf("MRN survived scrub: %q", scrubbed)
	}
}

func TestScrubberMasksRegisteredNames(t *testing.T) {
	scrubber, err := NewScrubber(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create scrubber: %v", err)
	}
	scrubber.AddName("Maria Gonzales")

	scrubbed := scrubber.Scrub("maria gonzales reports chest tightness")
	if strings.Contains(strings.ToLower(scrubbed), "gonzales") {
		t.Fatalf("name survived scrub: %q", scrubbed)
	}
	if !strings.Contains(scrubbed, "[patient]") {
		t.Fatalf("expected placeholder in %q", scrubbed)
	}
}

func TestScrubberConcurrentAddNameAndScrub(t *testing.T) {
	scrubber, err := NewScrubber(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create scrubber: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				scrubber.AddName(fmt.Sprintf("Patient %d-%d", n, j))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				scrubber.Scrub("Patient 0-0 reports dizziness")
			}
		}()
	}
	wg.Wait()

	if got := scrubber.Scrub("Patient 0-0 reports dizziness"); strings.Contains(got, "Patient 0-0") {
		t.Fatalf("registered name survived scrub: %q", got)
	}
}

func TestDetectedReportsTypesOnly(t *testing.T) {
	scrubber, err := NewScrubber(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create scrubber: %v", err)
	}

	types := scrubber.Detected("email john@example.com and again jane@example.com")
	if len(types) != 1 || types[0] != "email" {
		t.Fatalf("expected deduplicated [email], got %v", types)
	}
}
