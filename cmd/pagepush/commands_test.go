package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"pagepush/api/internal/auth"
	"pagepush/api/internal/converter"
)

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestSignPrintsVerifiableHeaders(t *testing.T) {
	body := []byte(`{"page":{"title":"Hi"}}`)
	path := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write body: %v", err)
	}

	out, _, err := run(t, "", "sign", "--file", path, "--secret", "s3cret")
	if err != nil {
		t.Fatalf("sign error = %v", err)
	}
	headers := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			t.Fatalf("unexpected line %q", line)
		}
		headers[name] = value
	}
	if want := auth.Sign([]byte("s3cret"), headers["X-Timestamp"], body); headers["X-Signature"] != want {
		t.Fatalf("signature %q does not verify, want %q", headers["X-Signature"], want)
	}
}

func TestSignRequiresSecret(t *testing.T) {
	t.Setenv("PAGEPUSH_HMAC_SECRET", "")
	t.Setenv("PAGEPUSH_API_KEY", "")
	if _, _, err := run(t, "{}", "sign"); err == nil {
		t.Fatalf("expected an error without a secret")
	}
}

func TestConvertFromStdin(t *testing.T) {
	out, _, err := run(t, "<h1>Title</h1><p>Hello <b>world</b></p>", "convert")
	if err != nil {
		t.Fatalf("convert error = %v", err)
	}
	doc, err := converter.ParseDocument([]byte(out))
	if err != nil {
		t.Fatalf("output is not a block tree: %v\n%s", err, out)
	}
	if len(doc.Widgets()) != 2 {
		t.Fatalf("expected heading and text widgets, got %d", len(doc.Widgets()))
	}
}

func TestHashKey(t *testing.T) {
	out, _, err := run(t, "", "hash-key", "--cost", "4", "pp_live_key")
	if err != nil {
		t.Fatalf("hash-key error = %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("pp_live_key")); err != nil {
		t.Fatalf("hash does not match key: %v", err)
	}

	if _, _, err := run(t, "", "hash-key"); err == nil {
		t.Fatalf("expected an argument error")
	}
}
