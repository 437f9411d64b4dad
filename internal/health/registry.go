package health

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"auction-batch/internal/config"
	"auction-batch/internal/models"
)

// LocationVars are the fields available to a service's location template.
type LocationVars struct {
	Service     string
	Date        string // YYYY-MM-DD
	DateCompact string // YYYYMMDD
	Year        string
	Month       string
	Day         string
}

type entry struct {
	cfg  config.ServiceConfig
	tmpl *template.Template
}

// Registry maps a service identity to its artifact location template and backend.
// Adding a service is a manifest change.
type Registry struct {
	entries map[string]entry
	order   []string
}

func NewRegistry(services []config.ServiceConfig) (*Registry, error) {
	r := &Registry{entries: make(map[string]entry, len(services))}
	for _, s := range services {
		tmpl, err := template.New(s.Name).Option("missingkey=error").Parse(s.Location)
		if err != nil {
			return nil, fmt.Errorf("service %q: parse location: %w", s.Name, err)
		}
		if _, dup := r.entries[s.Name]; dup {
			return nil, fmt.Errorf("service %q registered twice", s.Name)
		}
		r.entries[s.Name] = entry{cfg: s, tmpl: tmpl}
		r.order = append(r.order, s.Name)
	}
	return r, nil
}

// Services lists registered identities in registration order.
func (r *Registry) Services() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Lookup(service string) (config.ServiceConfig, bool) {
	e, ok := r.entries[service]
	return e.cfg, ok
}

// Resolve renders the artifact key for service on dataDate.
func (r *Registry) Resolve(service string, dataDate time.Time) (string, error) {
	e, ok := r.entries[service]
	if !ok {
		return "", fmt.Errorf("unknown service %q", service)
	}
	d := models.Day(dataDate)
	vars := LocationVars{
		Service:     service,
		Date:        d.Format(models.DateLayout),
		DateCompact: d.Format("20060102"),
		Year:        d.Format("2006"),
		Month:       d.Format("01"),
		Day:         d.Format("02"),
	}
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render location for %q: %w", service, err)
	}
	return buf.String(), nil
}
