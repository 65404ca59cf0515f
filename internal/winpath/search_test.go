package winpath

import "testing"

// fakeFS backs Stat with an in-memory set of existing plain files, so
// Search's algorithm is exercised without touching the real filesystem.
type fakeFS map[string]bool

func (fs fakeFS) stat(path string) (exists, isDir, isReparsePoint bool) {
	return fs[path], false, false
}

func TestSearchFindsExactNameInCwd(t *testing.T) {
	fs := fakeFS{`C:\work\tool.exe`: true}
	got, ok := Search("tool.exe", `C:\work`, "", fs.stat)
	if !ok || got != `C:\work\tool.exe` {
		t.Fatalf("Search() = (%q, %v), want (%q, true)", got, ok, `C:\work\tool.exe`)
	}
}

func TestSearchTriesExtensionsWhenNameHasNone(t *testing.T) {
	fs := fakeFS{`C:\work\tool.exe`: true}
	got, ok := Search("tool", `C:\work`, "", fs.stat)
	if !ok || got != `C:\work\tool.exe` {
		t.Fatalf("Search() = (%q, %v), want (%q, true)", got, ok, `C:\work\tool.exe`)
	}
}

func TestSearchFallsBackToPath(t *testing.T) {
	fs := fakeFS{`C:\bin\tool.exe`: true}
	got, ok := Search("tool", `C:\work`, `C:\other;C:\bin`, fs.stat)
	if !ok || got != `C:\bin\tool.exe` {
		t.Fatalf("Search() = (%q, %v), want (%q, true)", got, ok, `C:\bin\tool.exe`)
	}
}

func TestSearchReturnsFalseWhenNotFound(t *testing.T) {
	fs := fakeFS{}
	if _, ok := Search("missing", `C:\work`, `C:\bin`, fs.stat); ok {
		t.Fatal("expected Search to report not found")
	}
}

func TestSearchRejectsDirectoryCandidate(t *testing.T) {
	stat := func(path string) (bool, bool, bool) {
		if path == `C:\work\tool.exe` {
			return true, true, false // exists, but is a directory
		}
		return false, false, false
	}
	if _, ok := Search("tool.exe", `C:\work`, "", stat); ok {
		t.Fatal("expected a directory candidate to be rejected")
	}
}

func TestSearchUsesAbsoluteDriveLetterPathVerbatim(t *testing.T) {
	fs := fakeFS{`D:\tools\tool.exe`: true}
	got, ok := Search(`D:\tools\tool.exe`, `C:\work`, "", fs.stat)
	if !ok || got != `D:\tools\tool.exe` {
		t.Fatalf("Search() = (%q, %v), want (%q, true)", got, ok, `D:\tools\tool.exe`)
	}
}

func TestSearchTrimsQuotedPathEntries(t *testing.T) {
	fs := fakeFS{`C:\bin\tool.exe`: true}
	got, ok := Search("tool", `C:\work`, `"C:\bin"`, fs.stat)
	if !ok || got != `C:\bin\tool.exe` {
		t.Fatalf("Search() = (%q, %v), want (%q, true)", got, ok, `C:\bin\tool.exe`)
	}
}
