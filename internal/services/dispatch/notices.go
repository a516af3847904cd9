package dispatch

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/BearBump/SafeZone/internal/models"
)

const timeLayout = "Mon, 02 Jan 2006 15:04 MST"

// Namer is implemented by contact registries that also know the user's display name.
type Namer interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// DisplayName asks src for the user's name and falls back to a neutral label.
func DisplayName(ctx context.Context, src any, userID string) string {
	if n, ok := src.(Namer); ok {
		if name, err := n.DisplayName(ctx, userID); err == nil && name != "" {
			return name
		}
	}
	return "Your contact"
}

func mapsLink(l models.Location) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%f,%f", l.Lat, l.Lon)
}

func osmLink(l models.Location) string {
	return fmt.Sprintf("https://www.openstreetmap.org/?mlat=%f&mlon=%f", l.Lat, l.Lon)
}

func SOSNotice(who string, loc models.Location, at time.Time) Notice {
	return Notice{
		Kind:    models.NoticeSOS,
		Subject: "EMERGENCY SOS ALERT - Immediate Action Required",
		Body: fmt.Sprintf(`<h2>Emergency SOS Alert</h2>
<p><strong>%s</strong> has triggered an emergency alert!</p>
<p><strong>Location:</strong> <a href="%s">view on map</a></p>
<p><strong>Time:</strong> %s</p>
<p style="color: red; font-weight: bold;">Please contact them immediately!</p>`,
			html.EscapeString(who), mapsLink(loc), at.Format(timeLayout)),
	}
}

func SOSResolvedNotice(who string, at time.Time) Notice {
	return Notice{
		Kind:    models.NoticeSOSResolved,
		Subject: "SOS Alert Resolved",
		Body: fmt.Sprintf(`<h2>SOS Alert Resolved</h2>
<p>%s's emergency alert has been resolved.</p>
<p>Time: %s</p>`, html.EscapeString(who), at.Format(timeLayout)),
	}
}

func TripStartedNotice(who string, t *models.Trip) Notice {
	return Notice{
		Kind:    models.NoticeTripStarted,
		Subject: "Trip Started - SafeZone Monitoring",
		Body: fmt.Sprintf(`<h2>Trip Monitoring Alert</h2>
<p>%s has started a trip.</p>
<p>Start Location: %s</p>
<p>Destination: %s</p>
<p>Expected Arrival: %s</p>`,
			html.EscapeString(who), osmLink(t.StartLocation), osmLink(t.EndLocation), t.ExpectedEndTime.Format(timeLayout)),
	}
}

func TripDelayedNotice(who string, t *models.Trip) Notice {
	where := "unknown"
	if t.CurrentLocation != nil {
		where = osmLink(t.CurrentLocation.Location)
	}
	return Notice{
		Kind:    models.NoticeTripDelayed,
		Subject: "Trip Delay Alert - SafeZone",
		Body: fmt.Sprintf(`<h2>Trip Delay Alert</h2>
<p>%s's trip has been delayed.</p>
<p>Current Location: %s</p>
<p>Expected Arrival Was: %s</p>`,
			html.EscapeString(who), where, t.ExpectedEndTime.Format(timeLayout)),
	}
}

func TripCompletedNotice(who string, t *models.Trip) Notice {
	arrived := ""
	if t.ActualEndTime != nil {
		arrived = t.ActualEndTime.Format(timeLayout)
	}
	return Notice{
		Kind:    models.NoticeTripCompleted,
		Subject: "Trip Completed - SafeZone",
		Body: fmt.Sprintf(`<h2>Trip Completed</h2>
<p>%s has completed their trip safely.</p>
<p>Arrival Time: %s</p>`, html.EscapeString(who), arrived),
	}
}
