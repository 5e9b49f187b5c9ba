package flights

import (
	"context"
	"log"
	"time"

	"github.com/lox/aviationstats/internal/models"
	"github.com/lox/aviationstats/internal/predict"
	"github.com/lox/aviationstats/internal/recordstore"
)

type Fetcher interface {
	Fetch(ctx context.Context) ([]models.Flight, error)
}

type AnnotatedFlight struct {
	models.Flight
	Prediction *predict.Prediction `json:"prediction,omitempty"`
}

type Live struct {
	Flights   []AnnotatedFlight `json:"flights"`
	Count     int               `json:"count"`
	Timestamp time.Time         `json:"timestamp"`
}

// Feed pairs live flights with a severity prediction each.
type Feed struct {
	fetcher Fetcher
	svc     *predict.Service
	now     func() time.Time
}

func NewFeed(f Fetcher, svc *predict.Service) *Feed {
	return &Feed{fetcher: f, svc: svc, now: time.Now}
}

func (f *Feed) Live(ctx context.Context, snap *recordstore.Snapshot) (*Live, error) {
	flights, err := f.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	out := &Live{Flights: make([]AnnotatedFlight, 0, len(flights)), Timestamp: f.now().UTC()}
	for _, fl := range flights {
		af := AnnotatedFlight{Flight: fl}
		resp, err := f.svc.Estimate(snap, predict.Request{
			Airline:          orUnknown(fl.Airline),
			AircraftType:     orUnknown(fl.AircraftType),
			DepartureAirport: orUnknown(fl.Departure),
			ArrivalAirport:   orUnknown(fl.Arrival),
		})
		if err != nil {
			log.Printf("flights: predict %s: %v", fl.FlightNumber, err)
		} else {
			af.Prediction = &resp.Prediction
		}
		out.Flights = append(out.Flights, af)
	}
	out.Count = len(out.Flights)
	return out, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
