package storage

import "testing"

func TestBuildObjectKey(t *testing.T) {
	key, err := BuildObjectKey("nfl/2024", "plays/part-0001.parquet")
	if err != nil {
		t.Fatalf("BuildObjectKey() error = %v", err)
	}
	if key != "nfl/2024/plays/part-0001.parquet" {
		t.Fatalf("BuildObjectKey() = %q", key)
	}
}

func TestBuildObjectKeyRejectsTraversal(t *testing.T) {
	for _, relative := range []string{"../secrets", "plays/../../x", ".hidden"} {
		if _, err := BuildObjectKey("nfl", relative); err == nil {
			t.Fatalf("BuildObjectKey(%q) expected error", relative)
		}
	}
	if _, err := BuildObjectKey("", "plays.parquet"); err == nil {
		t.Fatal("expected error for empty dataset key")
	}
}

func TestRelativePath(t *testing.T) {
	relative, err := RelativePath("nfl/", "nfl/plays/part-1.parquet")
	if err != nil {
		t.Fatalf("RelativePath() error = %v", err)
	}
	if relative != "plays/part-1.parquet" {
		t.Fatalf("RelativePath() = %q", relative)
	}
	if _, err := RelativePath("nfl", "nflx/plays.parquet"); err == nil {
		t.Fatal("expected error for key outside dataset")
	}
}
