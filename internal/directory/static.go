package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// StaticDirectory is an in-memory directory for local runs and tests.
type StaticDirectory struct {
	mu          sync.RWMutex
	doctors     map[string]Doctor
	patients    map[string]Contact
	unavailable map[string]map[string]bool
}

// NewStaticDirectory creates an empty static directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		doctors:     make(map[string]Doctor),
		patients:    make(map[string]Contact),
		unavailable: make(map[string]map[string]bool),
	}
}

// Seed is the JSON shape accepted by LoadStaticDirectory.
type Seed struct {
	Doctors  []Doctor            `json:"doctors"`
	Patients []Contact           `json:"patients"`
	Blocked  map[string][]string `json:"blocked"`
}

// LoadStaticDirectory builds a directory from a JSON seed document.
func LoadStaticDirectory(r io.Reader) (*StaticDirectory, error) {
	var seed Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("directory: decode seed: %w", err)
	}
	d := NewStaticDirectory()
	for _, doc := range seed.Doctors {
		if doc.ID == "" {
			return nil, fmt.Errorf("directory: seed doctor without id")
		}
		d.AddDoctor(doc)
	}
	for _, p := range seed.Patients {
		if p.ID == "" {
			return nil, fmt.Errorf("directory: seed patient without id")
		}
		d.AddPatient(p)
	}
	for doctorID, dates := range seed.Blocked {
		for _, date := range dates {
			d.BlockDate(doctorID, date)
		}
	}
	return d, nil
}

// AddDoctor registers or replaces a doctor.
func (d *StaticDirectory) AddDoctor(doc Doctor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc.Currency = strings.ToUpper(doc.Currency)
	d.doctors[doc.ID] = doc
}

// AddPatient registers or replaces a patient contact.
func (d *StaticDirectory) AddPatient(c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[c.ID] = c
}

// BlockDate marks doctorID as unavailable on date.
func (d *StaticDirectory) BlockDate(doctorID, date string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unavailable[doctorID] == nil {
		d.unavailable[doctorID] = make(map[string]bool)
	}
	d.unavailable[doctorID][date] = true
}

func (d *StaticDirectory) DoctorExists(ctx context.Context, doctorID string) (bool, error) {
	return doctorExists(ctx, d, doctorID)
}

func (d *StaticDirectory) IsDoctorAvailable(ctx context.Context, doctorID, date string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[doctorID]
	if !ok {
		return false, ErrNotFound
	}
	return doc.Available && !d.unavailable[doctorID][date], nil
}

func (d *StaticDirectory) Doctor(ctx context.Context, doctorID string) (*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[doctorID]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (d *StaticDirectory) PatientContact(ctx context.Context, patientID string) (*Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.patients[patientID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}
