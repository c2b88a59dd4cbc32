package desktop

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsoleShow(t *testing.T) {
	var out bytes.Buffer
	c := &Console{Out: &out}

	assert.True(t, c.Show(Message{Title: "Release notes", Body: "Version 1.2.0: Signed packages;"}))
	assert.Equal(t, "== Release notes ==\nVersion 1.2.0: Signed packages;\n", out.String())
}

func TestConsoleInteractiveWaitsForLine(t *testing.T) {
	var out bytes.Buffer
	c := &Console{Out: &out, In: strings.NewReader("\n\n"), Interactive: true}

	assert.True(t, c.Show(Message{Body: "first"}))
	assert.True(t, c.Show(Message{Body: "second"}))
	assert.Equal(t, 2, strings.Count(out.String(), "Press Enter to continue..."))
}

func TestConsoleInteractiveEOF(t *testing.T) {
	c := &Console{Out: io.Discard, In: strings.NewReader(""), Interactive: true}
	assert.True(t, c.Show(Message{Body: "closed stdin"}))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

type recordingNotifier struct {
	ok    bool
	shown []Message
}

func (r *recordingNotifier) Show(msg Message) bool {
	r.shown = append(r.shown, msg)
	return r.ok
}

func TestFallback(t *testing.T) {
	failing := &recordingNotifier{}
	working := &recordingNotifier{ok: true}
	unused := &recordingNotifier{ok: true}

	f := Fallback{failing, nil, &Console{Out: failingWriter{}}, working, unused}
	assert.True(t, f.Show(Message{Body: "hello"}))
	assert.Len(t, failing.shown, 1)
	assert.Len(t, working.shown, 1)
	assert.Empty(t, unused.shown)

	assert.False(t, Fallback{failing}.Show(Message{}))
}

func TestEscapeAppleScript(t *testing.T) {
	assert.Equal(t, `say \"hi\"\n\\ done`, escapeAppleScript("say \"hi\"\n\\ done\x01"))
}

func TestXMLEscape(t *testing.T) {
	assert.Equal(t, "a &lt;b&gt; &amp; c", xmlEscape("a <b> & c"))
}

func TestAppName(t *testing.T) {
	assert.Equal(t, "App Update", appName(""))
	assert.Equal(t, "Example", appName("Example"))
}
