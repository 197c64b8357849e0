package resolve

import "testing"

func TestUnwrap(t *testing.T) {
	cases := []struct{ in, want string }{
		{".gcc-wrapped", "gcc"},
		{"..gcc-wrapped-wrapped", "gcc"},
		{"...gcc-wrapped-wrapped-wrapped", "gcc"},
		{"gcc", "gcc"},
		{".hidden-file", ".hidden-file"},
		{"gcc-wrapped", "gcc-wrapped"},
		{".gcc-wrapped-wrapped", "gcc-wrapped"},
	}

	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			if got := Unwrap(c.in); got != c.want {
				t.Fatalf("Unwrap(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestBasename(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/nix/store/abc-gcc/bin/.gcc-wrapped", "gcc"},
		{"/usr/bin/sleep", "sleep"},
		{"gcc", "gcc"},
	}

	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			if got := Basename(c.in); got != c.want {
				t.Fatalf("Basename(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}
