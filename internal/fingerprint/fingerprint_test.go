package fingerprint

import "testing"

func TestNormalize(t *testing.T) {
	got := Normalize("  Apple \r\n", "りんご ")
	expected := "apple\nりんご"
	if got != expected {
		t.Errorf("Expected normalized string to be %q, but got %q", expected, got)
	}
}

func TestHash(t *testing.T) {
	t.Run("hash is deterministic", func(t *testing.T) {
		if Hash("apple", "りんご") != Hash("apple", "りんご") {
			t.Error("Expected hashes for identical pairs to be the same")
		}
	})

	t.Run("normalization produces same hash", func(t *testing.T) {
		if Hash("  Apple ", "りんご") != Hash("apple", "りんご") {
			t.Error("Expected hashes to be the same after normalization, but they were different.")
		}
	})

	t.Run("different pairs have different hashes", func(t *testing.T) {
		if Hash("apple", "りんご") == Hash("river", "川") {
			t.Error("Expected hashes for different pairs to be different")
		}
	})

	t.Run("field boundary matters", func(t *testing.T) {
		if Hash("ab", "c") == Hash("a", "bc") {
			t.Error("Expected shifted field boundaries to change the hash")
		}
	})
}
