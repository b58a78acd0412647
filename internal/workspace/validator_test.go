package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T, patterns []string) (*Validator, string) {
	t.Helper()
	root := t.TempDir()
	v, err := NewValidator(root, patterns)
	require.NoError(t, err)
	return v, v.Root()
}

func TestValidateRootForms(t *testing.T) {
	v, root := newTestValidator(t, nil)

	for _, input := range []string{"", ".", "/", "  "} {
		got, err := v.Validate(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, root, got, "input %q", input)
	}
}

func TestValidateRelativeAndAbsolute(t *testing.T) {
	v, root := newTestValidator(t, nil)
	sub := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	got, err := v.Validate("src")
	require.NoError(t, err)
	assert.Equal(t, sub, got)

	got, err = v.Validate(sub)
	require.NoError(t, err)
	assert.Equal(t, sub, got)
}

func TestValidateEscapes(t *testing.T) {
	v, _ := newTestValidator(t, nil)

	cases := []string{
		"../../../etc/passwd",
		"..",
		"src/../../outside",
		"/etc/passwd",
	}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			_, err := v.Validate(input)
			assert.ErrorIs(t, err, ErrEscapesWorkspace)
		})
	}
}

func TestValidateSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	v, root := newTestValidator(t, nil)
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	_, err := v.Validate("link/file.txt")
	assert.ErrorIs(t, err, ErrEscapesWorkspace)

	_, err = v.Validate("link")
	assert.ErrorIs(t, err, ErrEscapesWorkspace)
}

func TestValidateSymlinkInsideWorkspace(t *testing.T) {
	v, root := newTestValidator(t, nil)
	target := filepath.Join(root, "real")
	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "alias")))

	got, err := v.Validate("alias")
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestValidateBlockedPatterns(t *testing.T) {
	patterns := []string{"*.env", "*.key", ".git/config", "**/secrets/**"}
	v, root := newTestValidator(t, patterns)
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app", "secrets"), 0o755))

	cases := []struct {
		input   string
		blocked bool
	}{
		{"prod.env", true},
		{"config/server.key", true},
		{".git/config", true},
		{"app/secrets/token.txt", true},
		{"main.go", false},
		{"README.md", false},
		{".git/HEAD", false},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			_, err := v.Validate(tc.input)
			if tc.blocked {
				assert.ErrorIs(t, err, ErrBlocked)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNonexistentPathAllowed(t *testing.T) {
	v, root := newTestValidator(t, nil)

	got, err := v.Validate("newdir/newfile.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "newdir", "newfile.txt"), got)
}

func TestValidateDeterministic(t *testing.T) {
	v, _ := newTestValidator(t, []string{"*.env"})

	first, err1 := v.Validate("a/b/c.txt")
	second, err2 := v.Validate("a/b/c.txt")
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
}

func TestWithUserPatterns(t *testing.T) {
	v, root := newTestValidator(t, []string{"*.env"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("x"), 0o644))

	_, err := v.Validate("notes.md")
	require.NoError(t, err)

	overlaid := v.WithUserPatterns([]string{"*.md"})
	_, err = overlaid.Validate("notes.md")
	assert.ErrorIs(t, err, ErrBlocked)

	// Base validator is unchanged.
	_, err = v.Validate("notes.md")
	assert.NoError(t, err)
}

func TestValidateForWrite(t *testing.T) {
	v, root := newTestValidator(t, nil)

	got, err := v.ValidateForWrite("fresh.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "fresh.txt"), got)

	_, err = v.ValidateForWrite("missing-dir/file.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not accessible")
}

func TestValidateForWriteParentIsFile(t *testing.T) {
	v, root := newTestValidator(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, "plain"), []byte("x"), 0o644))

	_, err := v.ValidateForWrite("plain/child.txt")
	require.Error(t, err)
}

func TestRel(t *testing.T) {
	v, root := newTestValidator(t, nil)

	assert.Equal(t, "", v.Rel(root))
	assert.Equal(t, "a/b.txt", v.Rel(filepath.Join(root, "a", "b.txt")))
}

func TestIsBinary(t *testing.T) {
	dir := t.TempDir()

	text := filepath.Join(dir, "text.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello\nworld\n"), 0o644))
	got, err := IsBinary(text)
	require.NoError(t, err)
	assert.False(t, got)

	withNul := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(withNul, []byte("abc\x00def"), 0o644))
	got, err = IsBinary(withNul)
	require.NoError(t, err)
	assert.True(t, got)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	got, err = IsBinary(empty)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestLooksBinaryRatio(t *testing.T) {
	// 4 of 10 bytes are control characters outside the text set.
	sample := []byte{0x01, 0x02, 0x03, 0x04, 'a', 'b', 'c', 'd', 'e', 'f'}
	assert.True(t, looksBinary(sample))

	// 2 of 10 is under the 30% threshold.
	sample = []byte{0x01, 0x02, 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h'}
	assert.False(t, looksBinary(sample))
}
