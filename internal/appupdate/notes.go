package appupdate

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NotesNotFound replaces notes that are empty once cleaned.
const NotesNotFound = "release notes not found"

var cdataMarkers = strings.NewReplacer("<![CDATA[", "", "]]>", "")

// Elements that end a line of text when rendered.
var lineBreaking = map[atom.Atom]bool{
	atom.P: true, atom.Br: true, atom.Div: true, atom.Li: true,
	atom.Ul: true, atom.Ol: true, atom.Tr: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// maxCleanPasses bounds the passes over notes with nested escaping.
const maxCleanPasses = 8

// CleanNote strips HTML artifacts from a release notes document and folds its
// lines into "; "-separated segments ending in ";". Notes with no text left
// become NotesNotFound. Escaped markup is decoded and cleaned again until
// nothing changes, so cleaning a cleaned note returns it unchanged.
func CleanNote(raw string) string {
	note := cleanPass(raw)
	for i := 0; i < maxCleanPasses; i++ {
		next := cleanPass(note)
		if next == note {
			break
		}
		note = next
	}
	return note
}

func cleanPass(raw string) string {
	if strings.TrimSpace(raw) == NotesNotFound {
		return NotesNotFound
	}

	text := htmlText(cdataMarkers.Replace(raw))

	var segments []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line), ";"))
		if line != "" {
			segments = append(segments, line)
		}
	}
	if len(segments) == 0 {
		return NotesNotFound
	}
	return strings.Join(segments, "; ") + ";"
}

// CleanReleaseNotes cleans every document, keeping order.
func CleanReleaseNotes(raw []RawNote) []ReleaseNote {
	notes := make([]ReleaseNote, 0, len(raw))
	for _, r := range raw {
		notes = append(notes, ReleaseNote{Version: r.Version, Notes: CleanNote(r.Text)})
	}
	return notes
}

// RenderReleaseNotes formats notes one version per line.
func RenderReleaseNotes(notes []ReleaseNote) string {
	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		lines = append(lines, fmt.Sprintf("Version %s: %s", n.Version, n.Notes))
	}
	return strings.Join(lines, "\n")
}

func htmlText(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if lineBreaking[atom.Lookup(name)] {
				b.WriteByte('\n')
			}
		}
	}
}
