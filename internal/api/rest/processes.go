package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenFleetCore/internal/orchestrator"
	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"github.com/gin-gonic/gin"
)

// Process handlers delegate to the command façade so REST and the
// live WebSocket channel share one code path per command.

func (s *Server) createProcess(c *gin.Context) {
	var cmd orchestrator.CreateProcessCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PROC_400", "Invalid request body", err.Error()))
		return
	}
	respond(c, s.commands.CreateProcess(c.Request.Context(), cmd))
}

func (s *Server) createProcesses(c *gin.Context) {
	var cmd orchestrator.BulkCreateCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PROC_400", "Invalid request body", err.Error()))
		return
	}
	respond(c, s.commands.CreateProcesses(c.Request.Context(), cmd))
}

func (s *Server) listProcesses(c *gin.Context) {
	respond(c, s.commands.GetProcesses(types.Status(c.Query("status"))))
}

func (s *Server) getProcess(c *gin.Context) {
	respond(c, s.commands.GetProcess(c.Param("account"), c.Query("device_id")))
}

func (s *Server) stopProcess(c *gin.Context) {
	respond(c, s.commands.StopProcess(c.Request.Context(), c.Param("account")))
}

func (s *Server) removeProcess(c *gin.Context) {
	respond(c, s.commands.RemoveProcess(c.Param("account")))
}

func (s *Server) removeSchedule(c *gin.Context) {
	respond(c, s.commands.RemoveSchedule(c.Param("account")))
}

func (s *Server) updateProcess(c *gin.Context) {
	var snap types.Process
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PROC_400", "Invalid request body", err.Error()))
		return
	}
	respond(c, s.commands.UpdateProcess(snap))
}

func (s *Server) updateProcesses(c *gin.Context) {
	var snaps []types.Process
	if err := c.ShouldBindJSON(&snaps); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PROC_400", "Invalid request body", err.Error()))
		return
	}
	respond(c, s.commands.UpdateProcesses(snaps))
}

func (s *Server) getSessions(c *gin.Context) {
	respond(c, s.commands.GetSessions())
}

func (s *Server) getAccountConfig(c *gin.Context) {
	respond(c, s.commands.GetConfig(c.Param("account"), c.Query("name")))
}

func (s *Server) saveAccountConfig(c *gin.Context) {
	var doc map[string]any
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PROC_400", "Invalid request body", err.Error()))
		return
	}
	respond(c, s.commands.SaveConfig(c.Param("account"), c.Query("name"), doc))
}

func (s *Server) sendTelegramReport(c *gin.Context) {
	respond(c, s.commands.SendStatusToTelegram(c.Request.Context()))
}
