package process

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

var messageTemplates = sync.Map{} // template text -> *template.Template

// FormatMessage renders a user-facing message template with the sprig function map.
// A broken template is logged and returned verbatim.
func FormatMessage(text string, data map[string]any) string {
	var tmpl *template.Template
	if cached, ok := messageTemplates.Load(text); ok {
		tmpl = cached.(*template.Template)
	} else {
		parsed, err := template.New("message").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(text)
		if err != nil {
			slog.Error(fmt.Sprintf("parse message template failed, template: %q, err: %v", text, err))
			return text
		}
		messageTemplates.Store(text, parsed)
		tmpl = parsed
	}
	buf := &bytes.Buffer{}
	if err := tmpl.Execute(buf, data); err != nil {
		slog.Error(fmt.Sprintf("render message template failed, template: %q, err: %v", text, err))
		return text
	}
	return buf.String()
}

const (
	MessageStepTimedOut      = `Execution of step {{ .step | quote }} has timed out after {{ .timeout }}`
	MessageStepFailed        = `Error executing step {{ .step | quote }}`
	MessageRetriesTimedOut   = `Step {{ .step | quote }} kept failing for {{ .timeout }}, giving up`
	MessageExecutingHooks    = `Executing hooks {{ .hooks | join ", " }} of module {{ .module | quote }}`
	MessageIterationProgress = `Processing item {{ add1 .index }} of {{ .count }}`
)
