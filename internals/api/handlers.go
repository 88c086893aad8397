package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/thebowwman/delisim/internals/auth"
	"github.com/thebowwman/delisim/internals/domain"
	"github.com/thebowwman/delisim/internals/hub"
	"github.com/thebowwman/delisim/internals/store"
)

// Deliveries is the delivery record store behind the API.
type Deliveries interface {
	Create(ctx context.Context, address string) (*domain.Delivery, error)
	Get(ctx context.Context, id string) (*domain.Delivery, error)
	UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus) (*domain.Delivery, error)
}

// Simulator controls position simulations.
type Simulator interface {
	Start(ctx context.Context, deliveryID, address string) bool
	StartDelivery(ctx context.Context, deliveryID string) bool
	Stop(deliveryID string) bool
	IsRunning(deliveryID string) bool
}

type Server struct {
	deliveries Deliveries
	sim        Simulator
	hubs       *hub.Hubs
	issuer     *auth.Issuer
}

func NewServer(deliveries Deliveries, sim Simulator, hubs *hub.Hubs, issuer *auth.Issuer) *Server {
	return &Server{deliveries: deliveries, sim: sim, hubs: hubs, issuer: issuer}
}

// authorize checks the bearer token against the :deliveryID path parameter.
func (s *Server) authorize(c *gin.Context) (*auth.Claims, bool) {
	claims, err := s.issuer.ParseTokenFromRequest(c.Request)
	if err != nil {
		c.String(http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	if c.Param("deliveryID") != claims.DeliveryID {
		c.String(http.StatusForbidden, "delivery mismatch")
		return nil, false
	}
	return claims, true
}

func (s *Server) authorizeControl(c *gin.Context) (*auth.Claims, bool) {
	claims, ok := s.authorize(c)
	if !ok {
		return nil, false
	}
	if !claims.CanControl() {
		c.String(http.StatusForbidden, "dispatcher role required")
		return nil, false
	}
	return claims, true
}

func (s *Server) writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.Status(http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidStatus):
		c.String(http.StatusBadRequest, "invalid status")
	default:
		log.Printf("api: store error: %v", err)
		c.String(http.StatusInternalServerError, "internal error")
	}
}

type createDeliveryReq struct {
	Address string `json:"address"`
}

type createDeliveryResp struct {
	DeliveryID      string `json:"delivery_id"`
	TrackingNumber  string `json:"tracking_number"`
	CustomerToken   string `json:"customer_token"`
	DispatcherToken string `json:"dispatcher_token"`
	WSURL           string `json:"ws_url"`
}

func (s *Server) handleCreateDelivery(c *gin.Context) {
	var req createDeliveryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "bad json")
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" {
		c.String(http.StatusBadRequest, "address required")
		return
	}

	d, err := s.deliveries.Create(c.Request.Context(), req.Address)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	s.hubs.GetOrCreate(d.ID)

	cTok, err := s.issuer.MakeToken(d.ID, auth.RoleCustomer)
	if err != nil {
		c.String(http.StatusInternalServerError, "token error")
		return
	}
	dTok, err := s.issuer.MakeToken(d.ID, auth.RoleDispatcher)
	if err != nil {
		c.String(http.StatusInternalServerError, "token error")
		return
	}

	c.JSON(http.StatusCreated, createDeliveryResp{
		DeliveryID:      d.ID,
		TrackingNumber:  d.TrackingNumber,
		CustomerToken:   cTok,
		DispatcherToken: dTok,
		WSURL:           "ws://" + c.Request.Host + "/v1/ws/" + d.ID,
	})
}

type deliveryResp struct {
	*domain.Delivery
	SimulationRunning bool `json:"simulation_running"`
}

// handleGetDelivery also restarts the simulation for a shippable delivery
// that has none, e.g. after a restart.
func (s *Server) handleGetDelivery(c *gin.Context) {
	if _, ok := s.authorize(c); !ok {
		return
	}
	id := c.Param("deliveryID")
	d, err := s.deliveries.Get(c.Request.Context(), id)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}

	if d.Status.Shippable() && !s.sim.IsRunning(id) {
		log.Printf("delivery_id=%s tracked while %s, ensuring simulation", id, d.Status)
		s.sim.Start(context.WithoutCancel(c.Request.Context()), id, d.Address)
	}

	c.JSON(http.StatusOK, deliveryResp{Delivery: d, SimulationRunning: s.sim.IsRunning(id)})
}

type updateStatusReq struct {
	Status domain.DeliveryStatus `json:"status"`
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	if _, ok := s.authorizeControl(c); !ok {
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "bad json")
		return
	}

	id := c.Param("deliveryID")
	d, err := s.deliveries.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}

	switch d.Status {
	case domain.StatusInTransit:
		s.sim.Start(context.WithoutCancel(c.Request.Context()), id, d.Address)
	case domain.StatusDelivered, domain.StatusFailed:
		s.sim.Stop(id)
	}

	c.JSON(http.StatusOK, deliveryResp{Delivery: d, SimulationRunning: s.sim.IsRunning(id)})
}

type simulationResp struct {
	DeliveryID string `json:"delivery_id"`
	Running    bool   `json:"running"`
	Changed    bool   `json:"changed"`
}

type startSimulationReq struct {
	Address string `json:"address,omitempty"`
}

func (s *Server) handleStartSimulation(c *gin.Context) {
	if _, ok := s.authorizeControl(c); !ok {
		return
	}
	id := c.Param("deliveryID")

	var req startSimulationReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.String(http.StatusBadRequest, "bad json")
			return
		}
	}

	ctx := context.WithoutCancel(c.Request.Context())
	var started bool
	if addr := strings.TrimSpace(req.Address); addr != "" {
		started = s.sim.Start(ctx, id, addr)
	} else {
		if _, err := s.deliveries.Get(ctx, id); err != nil {
			s.writeStoreError(c, err)
			return
		}
		started = s.sim.StartDelivery(ctx, id)
	}

	c.JSON(http.StatusOK, simulationResp{DeliveryID: id, Running: s.sim.IsRunning(id), Changed: started})
}

func (s *Server) handleStopSimulation(c *gin.Context) {
	if _, ok := s.authorizeControl(c); !ok {
		return
	}
	id := c.Param("deliveryID")
	stopped := s.sim.Stop(id)
	c.JSON(http.StatusOK, simulationResp{DeliveryID: id, Running: s.sim.IsRunning(id), Changed: stopped})
}

func (s *Server) handleGetSimulation(c *gin.Context) {
	if _, ok := s.authorize(c); !ok {
		return
	}
	id := c.Param("deliveryID")
	c.JSON(http.StatusOK, simulationResp{DeliveryID: id, Running: s.sim.IsRunning(id)})
}

// handleGetLocation returns the last broadcast update for the delivery.
func (s *Server) handleGetLocation(c *gin.Context) {
	if _, ok := s.authorize(c); !ok {
		return
	}
	h, ok := s.hubs.Get(c.Param("deliveryID"))
	if !ok || h.Last() == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "application/json", h.Last())
}
