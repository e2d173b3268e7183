package driver

import (
	"context"
	"strings"

	"github.com/example/ambulance-dispatch/internal/apperr"
	"github.com/example/ambulance-dispatch/internal/hospitals"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/storage"
	"github.com/example/ambulance-dispatch/internal/validation"
)

// Register writes a fresh ambulance record: available, no position yet.
// An existing record for the plate is replaced. hospital is optional but
// must be in the directory when given.
func Register(ctx context.Context, st storage.Store, dir *hospitals.Directory, name, plate, hospital string) (models.Ambulance, error) {
	name, plate, hospital = strings.TrimSpace(name), strings.TrimSpace(plate), strings.TrimSpace(hospital)
	if name == "" || plate == "" {
		return models.Ambulance{}, apperr.Validation("driver name and ambulance plate are required")
	}
	if !validation.ValidateName(name) {
		return models.Ambulance{}, apperr.Validation("driver name is too long")
	}
	if !validation.ValidatePlate(plate) {
		return models.Ambulance{}, apperr.Validation("use the format XX-00-YY-0000 for the plate")
	}
	if hospital != "" && dir != nil {
		h, err := dir.Find(hospital)
		if err != nil {
			return models.Ambulance{}, apperr.Validation("%v", err)
		}
		hospital = h.Name
	}
	a := models.Ambulance{
		Driver:   name,
		Plate:    plate,
		Hospital: hospital,
		Status:   models.AmbulanceAvailable,
	}
	if err := st.PutAmbulance(ctx, a); err != nil {
		return models.Ambulance{}, apperr.External("register ambulance", err)
	}
	return a, nil
}
