package api

import (
	"context"
	"net/http"

	"github.com/blnkfinance/disburse"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// callbackAck is what the provider expects back. It is sent for every callback, including ones
// that could not be parsed or matched, so the provider does not redeliver.
var callbackAck = gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

type callbackHandler func(ctx context.Context, raw []byte) (*disburse.CallbackAck, error)

func (a Api) handleCallback(c *gin.Context, kind string, handle callbackHandler) {
	raw, err := c.GetRawData()
	if err != nil {
		logrus.WithError(err).WithField("callback", kind).Error("failed to read callback body")
		c.JSON(http.StatusOK, callbackAck)
		return
	}

	ack, err := handle(c.Request.Context(), raw)
	fields := logrus.Fields{"callback": kind}
	if ack != nil {
		fields["outcome"] = ack.Outcome
		fields["disbursement_id"] = ack.DisbursementID
	}
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("callback not applied")
	} else {
		logrus.WithFields(fields).Debug("callback handled")
	}
	c.JSON(http.StatusOK, callbackAck)
}

func (a Api) B2CResultCallback(c *gin.Context) {
	a.handleCallback(c, "b2c_result", a.disburse.HandleResultCallback)
}

func (a Api) B2CTimeoutCallback(c *gin.Context) {
	a.handleCallback(c, "b2c_timeout", a.disburse.HandleTimeoutCallback)
}

func (a Api) BalanceResultCallback(c *gin.Context) {
	a.handleCallback(c, "balance_result", a.disburse.HandleBalanceCallback)
}

func (a Api) BalanceTimeoutCallback(c *gin.Context) {
	a.handleCallback(c, "balance_timeout", a.disburse.HandleBalanceTimeoutCallback)
}
