package api

import "github.com/gin-gonic/gin"

func RegisterRoutes(r *gin.Engine, s *Server) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(200) })

	v1 := r.Group("/v1")
	{
		v1.POST("/deliveries", s.handleCreateDelivery)
		v1.GET("/ws/:deliveryID", s.handleWS)
		v1.GET("/deliveries/:deliveryID", s.handleGetDelivery)
		v1.PATCH("/deliveries/:deliveryID/status", s.handleUpdateStatus)
		v1.GET("/deliveries/:deliveryID/location", s.handleGetLocation)
		v1.GET("/deliveries/:deliveryID/simulation", s.handleGetSimulation)
		v1.POST("/deliveries/:deliveryID/simulation", s.handleStartSimulation)
		v1.DELETE("/deliveries/:deliveryID/simulation", s.handleStopSimulation)
	}
}
