package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainOutputWhenNotTTY(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Success("indexed %d files", 3)
	w.Warning("scan interrupted")
	w.Error("storage corrupt")
	w.Dim("session abc")
	w.Printf("plain %s", "line")

	out := buf.String()
	assert.Contains(t, out, "indexed 3 files")
	assert.Contains(t, out, "scan interrupted")
	assert.Contains(t, out, "storage corrupt")
	assert.Contains(t, out, "session abc")
	assert.Contains(t, out, "plain line")
	assert.NotContains(t, out, "\x1b[", "no ANSI escapes when the writer is not a terminal")
}
