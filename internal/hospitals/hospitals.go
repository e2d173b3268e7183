// Package hospitals is the static hospital directory used to resolve a
// booking's destination and to validate a driver's affiliation.
package hospitals

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/example/ambulance-dispatch/internal/models"
)

//go:embed hospitals.json
var builtin []byte

var ErrUnknown = errors.New("unknown hospital")

type Directory struct {
	list   []models.Hospital
	byName map[string]models.Hospital
}

// Default returns the embedded directory.
func Default() *Directory {
	d, err := parse(builtin)
	if err != nil {
		panic(err)
	}
	return d
}

// Load reads a directory from a JSON file; an empty path means Default.
func Load(path string) (*Directory, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hospitals %s: %w", path, err)
	}
	return parse(b)
}

func parse(b []byte) (*Directory, error) {
	var list []models.Hospital
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("parse hospitals: %w", err)
	}
	d := &Directory{byName: make(map[string]models.Hospital, len(list))}
	for _, h := range list {
		h.Name = strings.TrimSpace(h.Name)
		if h.Name == "" {
			continue
		}
		d.list = append(d.list, h)
		d.byName[strings.ToLower(h.Name)] = h
	}
	sort.Slice(d.list, func(i, j int) bool { return d.list[i].Name < d.list[j].Name })
	return d, nil
}

func (d *Directory) All() []models.Hospital {
	return append([]models.Hospital(nil), d.list...)
}

// Find looks a hospital up by exact name, ignoring case.
func (d *Directory) Find(name string) (models.Hospital, error) {
	h, ok := d.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return models.Hospital{}, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return h, nil
}

// Search returns hospitals whose name contains q, ignoring case. An empty
// query matches nothing.
func (d *Directory) Search(q string) []models.Hospital {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil
	}
	var out []models.Hospital
	for _, h := range d.list {
		if strings.Contains(strings.ToLower(h.Name), q) {
			out = append(out, h)
		}
	}
	return out
}
