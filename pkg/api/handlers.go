package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/keygate/checkout/pkg/checkout"
)

func (s *Server) startPayment(c *gin.Context) {
	var intent checkout.Intent
	if err := c.ShouldBindJSON(&intent); err != nil {
		s.badRequest(c, err)
		return
	}

	session, err := s.env.StartPayment(c.Request.Context(), intent)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.registry.Add(session)
	c.JSON(http.StatusCreated, session.Snapshot())
}

func (s *Server) getPayment(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

func (s *Server) requestPurchase(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	if err := session.RequestPurchase(); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

func (s *Server) updateIntent(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	var update checkout.IntentUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := session.UpdateIntent(update); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

func (s *Server) confirm(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	if err := session.Confirm(); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, session.Snapshot())
}

func (s *Server) closePayment(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	session.Close()
	c.Status(http.StatusNoContent)
}

func (s *Server) getWallet(c *gin.Context) {
	c.JSON(http.StatusOK, s.env.Wallet().State())
}

func (s *Server) connectWallet(c *gin.Context) {
	if err := s.env.Wallet().Connect(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.env.Wallet().State())
}

func (s *Server) disconnectWallet(c *gin.Context) {
	s.env.Wallet().Disconnect()
	c.JSON(http.StatusOK, s.env.Wallet().State())
}

func (s *Server) activeRoutes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"routes": s.env.Router().GetActiveRoutes()})
}
