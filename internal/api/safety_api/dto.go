package safety_api

import (
	"time"

	"github.com/BearBump/SafeZone/internal/models"
)

type coordinates struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

func (c coordinates) location() models.Location {
	return models.Location{Lat: *c.Latitude, Lon: *c.Longitude}
}

type triggerRequest struct {
	coordinates
}

type startTripRequest struct {
	StartLocation   *coordinates `json:"startLocation" validate:"required"`
	EndLocation     *coordinates `json:"endLocation" validate:"required"`
	ExpectedEndTime *time.Time   `json:"expectedEndTime" validate:"required"`
}

type locationRequest struct {
	coordinates
}
