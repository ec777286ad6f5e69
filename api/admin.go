package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/api/model"
	"github.com/gin-gonic/gin"
)

// CheckBalances runs the balance monitor on demand. An empty body checks every partner that is due.
func (a Api) CheckBalances(c *gin.Context) {
	var trigger disburse.MonitorTrigger
	if err := c.ShouldBindJSON(&trigger); err != nil && !errors.Is(err, io.EOF) {
		validationFailure(c, err)
		return
	}

	results, err := a.disburse.CheckBalances(c.Request.Context(), trigger)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// StoreCredentials encrypts a partner's provider credentials into the vault.
func (a Api) StoreCredentials(c *gin.Context) {
	var req model.StoreCredentials
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailure(c, err)
		return
	}
	if err := req.ValidateStoreCredentials(); err != nil {
		validationFailure(c, err)
		return
	}

	partnerID := c.Param("id")
	if err := a.disburse.StoreCredentials(c.Request.Context(), partnerID, req.ToCredentials()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"partner_id": partnerID, "credentials": "stored"})
}

func (a Api) CreateBlock(c *gin.Context) {
	var req model.CreateBlock
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailure(c, err)
		return
	}
	if err := req.ValidateCreateBlock(); err != nil {
		validationFailure(c, err)
		return
	}

	block, err := a.disburse.CreateBlock(c.Request.Context(), req.ToBlock())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, block)
}
