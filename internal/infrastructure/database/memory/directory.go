package memory

import (
	"context"
	"sync"

	"github.com/turtacn/RetinaGuard/internal/domain/alert"
)

// Directory resolves display names from in-process maps. Unknown ids resolve
// to the id itself.
type Directory struct {
	mu       sync.RWMutex
	patients map[string]string
	clinics  map[string]string
	doctors  map[string]string
}

var _ alert.DirectoryResolver = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{
		patients: make(map[string]string),
		clinics:  make(map[string]string),
		doctors:  make(map[string]string),
	}
}

func (d *Directory) AddPatient(id, name string) { d.set(d.patients, id, name) }
func (d *Directory) AddClinic(id, name string)  { d.set(d.clinics, id, name) }
func (d *Directory) AddDoctor(id, name string)  { d.set(d.doctors, id, name) }

func (d *Directory) PatientName(_ context.Context, id string) string { return d.get(d.patients, id) }
func (d *Directory) ClinicName(_ context.Context, id string) string  { return d.get(d.clinics, id) }
func (d *Directory) DoctorName(_ context.Context, id string) string  { return d.get(d.doctors, id) }

func (d *Directory) set(m map[string]string, id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m[id] = name
}

func (d *Directory) get(m map[string]string, id string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if name, ok := m[id]; ok {
		return name
	}
	return id
}
