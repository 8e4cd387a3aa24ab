package util

import "testing"

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hello World":           "hello-world",
		"  Spring Sale -- 50%!": "spring-sale-50",
		"Ünïcode & co":          "n-code-co",
		"---":                   "",
		"already-a-slug":        "already-a-slug",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPageURL(t *testing.T) {
	if got := PageURL("https://example.com/", "about"); got != "https://example.com/about/" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := PageURL("https://example.com", "", "/services/", "seo"); got != "https://example.com/services/seo/" {
		t.Fatalf("unexpected nested url %q", got)
	}
	if got := PageURL("https://example.com"); got != "https://example.com/" {
		t.Fatalf("unexpected root url %q", got)
	}
}
