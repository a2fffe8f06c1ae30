package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/backend"
	cartlogic "github.com/benjaminabbitt/storefront/cart/logic"
	"github.com/benjaminabbitt/storefront/engine"
	"github.com/benjaminabbitt/storefront/order"
	"github.com/benjaminabbitt/storefront/order/logic"
	"github.com/benjaminabbitt/storefront/payment"
	"github.com/benjaminabbitt/storefront/shop"
	"github.com/benjaminabbitt/storefront/tabsync"
)

type cartView struct {
	Lines  []cartlogic.CartLine `json:"lines"`
	Totals engine.Totals        `json:"totals"`
}

type addLineRequest struct {
	Item     cartlogic.CartLine `json:"item"`
	Quantity int                `json:"quantity"`
}

type checkoutRequest struct {
	Profile       logic.CustomerProfile `json:"profile"`
	Method        logic.Method          `json:"method"`
	Card          *backend.Card         `json:"card,omitempty"`
	CreateAccount bool                  `json:"createAccount,omitempty"`
	Password      string                `json:"password,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type orderView struct {
	State        logic.State           `json:"state"`
	Token        string                `json:"token,omitempty"`
	RedirectURL  string                `json:"redirectUrl,omitempty"`
	Confirmation *logic.Confirmation   `json:"confirmation,omitempty"`
	Instructions *payment.Instructions `json:"instructions,omitempty"`
	Failure      payment.FailureKind   `json:"failure,omitempty"`
	Reason       string                `json:"reason,omitempty"`
}

func viewOf(r order.Result) orderView {
	return orderView{
		State:        r.State,
		Token:        r.Token,
		RedirectURL:  r.RedirectURL,
		Confirmation: r.Confirmation,
		Instructions: r.Instructions,
		Failure:      r.Failure,
		Reason:       r.Reason,
	}
}

func cartOf(session *engine.Session) cartView {
	return cartView{Lines: session.GetCartSnapshot(), Totals: session.CartTotals()}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.engine.Sessions()})
}

func (s *Server) handleOpenSession(c *gin.Context) {
	session := s.engine.Open(c.Request.Context(), "")
	c.SetCookie(SessionCookie, session.ID(), 0, "/", "", false, true)
	c.Header(SessionHeader, session.ID())
	c.JSON(http.StatusCreated, gin.H{"session": session.ID()})
}

func (s *Server) handleCloseSession(c *gin.Context, session *engine.Session) {
	if err := s.engine.CloseSession(session.ID()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleResume(c *gin.Context, session *engine.Session) {
	cleared, err := session.Resume(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared, "cart": cartOf(session)})
}

func (s *Server) handlePublish(c *gin.Context) {
	var m tabsync.Message
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Publish(c.Request.Context(), m); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleCart(c *gin.Context, session *engine.Session) {
	c.JSON(http.StatusOK, cartOf(session))
}

func (s *Server) handleAddLine(c *gin.Context, session *engine.Session) {
	var req addLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if _, err := session.AddToCart(c.Request.Context(), req.Item, req.Quantity); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cartOf(session))
}

func (s *Server) handleRemoveLine(c *gin.Context, session *engine.Session) {
	session.RemoveFromCart(c.Request.Context(), cartlogic.LineKey(c.Param("key")))
	c.JSON(http.StatusOK, cartOf(session))
}

func (s *Server) handleClearCart(c *gin.Context, session *engine.Session) {
	session.ClearCart(c.Request.Context())
	c.JSON(http.StatusOK, cartOf(session))
}

func (s *Server) handleCheckout(c *gin.Context, session *engine.Session) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := session.Checkout(c.Request.Context(), order.CheckoutRequest{
		Profile:       req.Profile,
		Method:        req.Method,
		Card:          req.Card,
		CreateAccount: req.CreateAccount,
		Password:      req.Password,
	})
	if errors.Is(err, logic.ErrDuplicateSubmission) {
		// A double click: the first submission answers for both.
		c.JSON(http.StatusOK, viewOf(res))
		return
	}
	if err != nil {
		s.failWith(c, err, viewOf(res))
		return
	}
	c.JSON(http.StatusOK, viewOf(res))
}

// handleReturn is where the wallet provider sends the shopper back. It may
// land in any session, including a brand new one.
func (s *Server) handleReturn(c *gin.Context, session *engine.Session) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	res, err := session.HandleReturn(c.Request.Context(), token, c.Query("status"))
	if err != nil {
		s.failWith(c, err, viewOf(res))
		return
	}
	c.JSON(http.StatusOK, viewOf(res))
}

func (s *Server) handleOrder(c *gin.Context, session *engine.Session) {
	c.JSON(http.StatusOK, viewOf(session.Order()))
}

func (s *Server) handleRetry(c *gin.Context, session *engine.Session) {
	if err := session.Retry(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(session.Order()))
}

func (s *Server) handleRecover(c *gin.Context, session *engine.Session) {
	res, err := session.RecoverPayment(c.Request.Context())
	if err != nil {
		s.failWith(c, err, viewOf(res))
		return
	}
	c.JSON(http.StatusOK, viewOf(res))
}

func (s *Server) handleNewOrder(c *gin.Context, session *engine.Session) {
	if err := session.NewOrder(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(session.Order()))
}

func (s *Server) handleProfile(c *gin.Context, session *engine.Session) {
	profile := session.Prefill(c.Request.Context())
	if profile == nil {
		c.JSON(http.StatusOK, gin.H{"guest": true})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) handleLogin(c *gin.Context, session *engine.Session) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	profile, err := session.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) handleLogout(c *gin.Context, session *engine.Session) {
	if err := session.Logout(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) fail(c *gin.Context, err error) {
	s.failWith(c, err, nil)
}

// failWith maps err to a status and writes it with the order position when
// one is given.
func (s *Server) failWith(c *gin.Context, err error, view any) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}
	var verr *logic.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	if view != nil {
		body["order"] = view
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}

func statusOf(err error) int {
	var (
		verr    *logic.ValidationError
		acctErr *order.AccountError
		apiErr  *backend.APIError
		amb     *payment.ReconciliationAmbiguity
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, logic.ErrDuplicateSubmission), errors.Is(err, logic.ErrInvalidTransition), errors.Is(err, logic.ErrAttemptClosed):
		return http.StatusConflict
	case errors.As(err, &acctErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &amb):
		return http.StatusBadGateway
	case backend.IsNetwork(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	if code, ok := shop.CodeOf(err); ok {
		switch code {
		case shop.StatusInvalidArgument:
			return http.StatusBadRequest
		case shop.StatusFailedPrecondition, shop.StatusAborted:
			return http.StatusConflict
		case shop.StatusUnavailable:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}
