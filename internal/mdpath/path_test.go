package mdpath

import "testing"

func TestJoin(t *testing.T) {
	cases := []struct {
		root, dirname string
		filename      string
		want          string
	}{
		{"/home/user/Maildir", "cur", "", "/home/user/Maildir/cur"},
		{"/home/user/Maildir", "cur", "163.eml", "/home/user/Maildir/cur/163.eml"},
	}
	for _, c := range cases {
		var got string
		var err error
		if c.filename == "" {
			got, err = Join(c.root, c.dirname)
		} else {
			got, err = Join(c.root, c.dirname, c.filename)
		}
		if err != nil {
			t.Fatalf("Join(%q,%q,%q): %v", c.root, c.dirname, c.filename, err)
		}
		if got != c.want {
			t.Errorf("Join(%q,%q,%q) = %q, want %q", c.root, c.dirname, c.filename, got, c.want)
		}
	}
}

func TestJoinTooLong(t *testing.T) {
	big := make([]byte, MaxLen)
	for i := range big {
		big[i] = 'a'
	}
	_, err := Join(string(big), "cur")
	if err != ErrTooLong {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestSliceMaildirRoot(t *testing.T) {
	got, ok := Slice("/a/b/Maildir/cur/163.eml", 0, -2)
	if !ok {
		t.Fatal("Slice reported out of range")
	}
	if got != "/a/b/Maildir" {
		t.Errorf("got %q, want /a/b/Maildir", got)
	}
}

func TestSliceSubdir(t *testing.T) {
	got, ok := Slice("/a/b/Maildir/cur/163.eml", -2, -2)
	if !ok {
		t.Fatal("Slice reported out of range")
	}
	if got != "cur" {
		t.Errorf("got %q, want cur (no leading separator)", got)
	}
}

func TestSliceRoundTrip(t *testing.T) {
	joined, err := Join("a", "b")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := Slice(joined, 0, 0)
	if !ok || got != "a" {
		t.Errorf("Slice(%q,0,0) = %q,%v want a,true", joined, got, ok)
	}
}

func TestSliceOutOfRange(t *testing.T) {
	if _, ok := Slice("/a/b", 5, 5); ok {
		t.Error("expected out-of-range slice to fail")
	}
	if _, ok := Slice("/a/b", 0, 5); ok {
		t.Error("expected out-of-range end to fail")
	}
}

func TestSliceRelativeFirstComponent(t *testing.T) {
	got, ok := Slice("a/b/c", 0, 1)
	if !ok || got != "a/b" {
		t.Errorf("Slice(a/b/c,0,1) = %q,%v want a/b,true", got, ok)
	}
}
