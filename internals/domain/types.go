package domain

import (
	"math"
	"time"
)

// Coordinate is a latitude-first point in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinate) IsValid() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lng) && c.Lat <= 90 && c.Lat >= -90 && c.Lng <= 180 && c.Lng >= -180
}

// Pair returns the coordinate as [lat, lng].
func (c Coordinate) Pair() [2]float64 { return [2]float64{c.Lat, c.Lng} }

// Route is an ordered path of at least two coordinates. It is built once per
// simulation and never mutated afterwards.
type Route []Coordinate

func (r Route) Last() Coordinate { return r[len(r)-1] }

// Pairs returns the waypoints as [[lat, lng], ...] for the wire format.
func (r Route) Pairs() [][2]float64 {
	out := make([][2]float64, 0, len(r))
	for _, c := range r {
		out = append(out, c.Pair())
	}
	return out
}

type DeliveryStatus string

const (
	StatusProcessing     DeliveryStatus = "processing"
	StatusInTransit      DeliveryStatus = "in_transit"
	StatusOutForDelivery DeliveryStatus = "out_for_delivery"
	StatusDelivered      DeliveryStatus = "delivered"
	StatusFailed         DeliveryStatus = "failed"
)

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case StatusProcessing, StatusInTransit, StatusOutForDelivery, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Shippable reports whether a delivery in this status should have a running simulation.
func (s DeliveryStatus) Shippable() bool {
	return s == StatusInTransit || s == StatusOutForDelivery
}

type Delivery struct {
	ID             string         `json:"id"`
	TrackingNumber string         `json:"tracking_number"`
	Status         DeliveryStatus `json:"status"`
	Address        string         `json:"address"`
	Current        *Coordinate    `json:"current,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Update kinds carried in LocationUpdate.Type.
const (
	UpdateRoute    = "route"
	UpdatePosition = "driver_loc"
	UpdateArrived  = "arrived"
)

// LocationUpdate is the message broadcast on a delivery's location topic.
type LocationUpdate struct {
	Type                 string       `json:"type"`
	DeliveryID           string       `json:"deliveryId"`
	Latitude             float64      `json:"latitude"`
	Longitude            float64      `json:"longitude"`
	Speed                float64      `json:"speed"`
	Heading              float64      `json:"heading"`
	DriverLabel          string       `json:"driverLabel"`
	Message              string       `json:"message"`
	Timestamp            int64        `json:"timestamp"`
	DestinationLatitude  float64      `json:"destinationLatitude"`
	DestinationLongitude float64      `json:"destinationLongitude"`
	RouteWaypoints       [][2]float64 `json:"routeWaypoints"`
}

// Topic is the broadcast topic for a delivery's location updates.
func Topic(deliveryID string) string {
	return "/topic/delivery/" + deliveryID + "/location"
}

// Position is one simulated sample handed to the publisher.
type Position struct {
	Kind        string
	DeliveryID  string
	Step        int
	At          Coordinate
	Destination Coordinate
	Route       Route
	Speed       float64
	Heading     float64
	Message     string
}
