package conversation

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/template"
)

const maxTemplateOutput = 64 * 1024

var templateCache sync.Map

// speechCtx is the data available to speech and display templates.
type speechCtx struct {
	SessionID    string
	Conversation string
	Interaction  string
	Text         string
	Variables    map[string]string
}

// render evaluates text as a Go template against the session variables.
// Text without template actions is returned unchanged.
func render(text string, data speechCtx) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	var tmpl *template.Template
	if cached, ok := templateCache.Load(text); ok {
		tmpl = cached.(*template.Template)
	} else {
		var err error
		tmpl, err = template.New("").Option("missingkey=zero").Parse(text)
		if err != nil {
			return "", err
		}
		templateCache.Store(text, tmpl)
	}

	var buf bytes.Buffer
	lw := &limitWriter{w: &buf, n: maxTemplateOutput}
	if err := tmpl.Execute(lw, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type limitWriter struct {
	w       io.Writer
	n       int64
	written int64
}

func (lw *limitWriter) Write(p []byte) (int, error) {
	if lw.written+int64(len(p)) > lw.n {
		allowed := lw.n - lw.written
		if allowed > 0 {
			n, err := lw.w.Write(p[:allowed])
			lw.written += int64(n)
			if err != nil {
				return n, err
			}
		}
		return 0, fmt.Errorf("template output exceeds %d bytes", lw.n)
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	return n, err
}
