package rebuild

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/EphraimElvis/coralite-io/internal/watcher"
)

// Kind is the build target a changed file belongs to.
type Kind int

const (
	KindNone Kind = iota
	KindHTML
	KindCSS
)

func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindCSS:
		return "css"
	default:
		return "none"
	}
}

// Label is the name printed in rebuild log lines.
func (k Kind) Label() string {
	return cases.Upper(language.Und).String(k.String())
}

// Classify maps a path to its target by extension, ignoring case.
func Classify(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html":
		return KindHTML
	case ".css":
		return KindCSS
	default:
		return KindNone
	}
}

// Event is one changed path to rebuild for.
type Event struct {
	Path string
	Kind Kind
	Op   watcher.EventType
}

// NewEvent classifies a watcher change.
func NewEvent(change watcher.ChangeEvent) Event {
	return Event{
		Path: filepath.ToSlash(change.Path),
		Kind: Classify(change.Path),
		Op:   change.Type,
	}
}
