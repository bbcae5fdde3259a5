package attachment

import "sync"

// Owner is the record an attachment belongs to. Coordinators read the
// identity and touch only their own name field.
type Owner interface {
	TypeName() string
	PrimaryKey() int64
	Name(field string) (string, bool)
	SetName(field, value string)
	ClearName(field string)
	AddError(field, message string)
}

// Row is an in-memory Owner.
type Row struct {
	Type string
	ID   int64

	mu     sync.Mutex
	names  map[string]string
	errors map[string][]string
}

// NewRow returns a Row with the given names already set.
func NewRow(typeName string, id int64, names map[string]string) *Row {
	r := &Row{
		Type:   typeName,
		ID:     id,
		names:  make(map[string]string, len(names)),
		errors: make(map[string][]string),
	}
	for k, v := range names {
		r.names[k] = v
	}
	return r
}

func (r *Row) TypeName() string  { return r.Type }
func (r *Row) PrimaryKey() int64 { return r.ID }

func (r *Row) Name(field string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.names[field]
	return v, ok
}

func (r *Row) SetName(field, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[field] = value
}

func (r *Row) ClearName(field string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.names, field)
}

func (r *Row) AddError(field, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[field] = append(r.errors[field], message)
}

// Errors returns the validation messages recorded for field.
func (r *Row) Errors(field string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors[field]...)
}
