package job

import "time"

// Option is a functional option applied by New.
type Option func(*Job)

// WithID overrides the generated job ID.
func WithID(id string) Option {
	return func(j *Job) {
		j.ID = id
	}
}

// WithPriority sets the job priority. Higher values are dispatched first.
func WithPriority(p int) Option {
	return func(j *Job) {
		j.Priority = p
	}
}

// WithOption sets a single entry of the job's options map.
func WithOption(key string, value any) Option {
	return func(j *Job) {
		j.Options[key] = value
	}
}

// WithOptions merges opts into the job's options map.
func WithOptions(opts map[string]any) Option {
	return func(j *Job) {
		for k, v := range opts {
			j.Options[k] = cloneValue(v)
		}
	}
}

// WithMetadata sets a metadata entry.
func WithMetadata(key, value string) Option {
	return func(j *Job) {
		j.Metadata[key] = value
	}
}

// WithCreatedAt overrides the creation timestamp.
func WithCreatedAt(t time.Time) Option {
	return func(j *Job) {
		j.CreatedAt = t
	}
}

// ──────────────────────────────────────────────────
// Options map accessors
// ──────────────────────────────────────────────────

// Section returns the nested options map stored under key, creating it
// when absent or when the stored value is not a map.
func (j *Job) Section(key string) map[string]any {
	if j.Options == nil {
		j.Options = make(map[string]any)
	}
	if m, ok := j.Options[key].(map[string]any); ok {
		return m
	}
	m := make(map[string]any)
	j.Options[key] = m
	return m
}

// LookupSection returns the nested options map stored under key without
// creating it.
func (j *Job) LookupSection(key string) (map[string]any, bool) {
	m, ok := j.Options[key].(map[string]any)
	return m, ok
}

// Bool returns the boolean option stored under key.
func (j *Job) Bool(key string) bool {
	b, _ := j.Options[key].(bool)
	return b
}

// Int returns the numeric option stored under key as an int. JSON
// decoding produces float64 so both forms are accepted.
func (j *Job) Int(key string, fallback int) int {
	return AsInt(j.Options[key], fallback)
}

// AsInt converts a numeric option value to int.
func AsInt(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	}
	return fallback
}
