package gke

import (
	"bytes"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/pkg/errors"
)

// DateNoDashMacro renders to the execution date as YYYYMMDD.
const DateNoDashMacro = "{{ ds_nodash }}"

// macros returns the template functions available to arguments: the sprig library plus the
// execution date in the forms scheduled tasks usually ask for.
func macros(execDate time.Time) template.FuncMap {
	funcs := sprig.TxtFuncMap()
	funcs["ds"] = func() string { return execDate.Format("2006-01-02") }
	funcs["ds_nodash"] = func() string { return execDate.Format("20060102") }
	funcs["ts"] = func() string { return execDate.Format(time.RFC3339) }
	funcs["ts_nodash"] = func() string { return execDate.Format("20060102T150405") }
	funcs["execution_date"] = func() time.Time { return execDate }
	return funcs
}

// Render resolves the template macros in the arguments for one execution date.
func (o *PodOperator) Render(execDate time.Time) ([]string, error) {
	funcs := macros(execDate)
	rendered := make([]string, 0, len(o.Arguments))
	for i, arg := range o.Arguments {
		if !strings.Contains(arg, "{{") {
			rendered = append(rendered, arg)
			continue
		}
		tmpl, err := template.New(o.TaskID).Funcs(funcs).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing argument %d of task %s", i, o.TaskID)
		}
		var b bytes.Buffer
		if err := tmpl.Execute(&b, nil); err != nil {
			return nil, errors.Wrapf(err, "rendering argument %d of task %s", i, o.TaskID)
		}
		rendered = append(rendered, b.String())
	}
	return rendered, nil
}
