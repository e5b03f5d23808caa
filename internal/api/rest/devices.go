package rest

import (
	"github.com/gin-gonic/gin"
)

// Device handlers

func (s *Server) listDevices(c *gin.Context) {
	respond(c, s.commands.GetDevices())
}

func (s *Server) listDevicesBattery(c *gin.Context) {
	respond(c, s.commands.GetDevicesBattery(c.Request.Context()))
}

func (s *Server) getDevice(c *gin.Context) {
	respond(c, s.commands.GetDevice(c.Param("id")))
}

func (s *Server) previewDevice(c *gin.Context) {
	respond(c, s.commands.PreviewDevice(c.Param("id")))
}
