package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"parking-service/internal/client"
	"parking-service/internal/http/middleware"
	"parking-service/internal/model"
	"parking-service/internal/service"
	"parking-service/pkg/ws"
)

type Handler struct {
	bookingService      *service.BookingService
	lotService          *service.LotService
	availabilityService *service.AvailabilityService
	hub                 *ws.Hub
	upgrader            websocket.Upgrader
	log                 zerolog.Logger
}

func NewHandler(
	bookingService *service.BookingService,
	lotService *service.LotService,
	availabilityService *service.AvailabilityService,
	hub *ws.Hub,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		bookingService:      bookingService,
		lotService:          lotService,
		availabilityService: availabilityService,
		hub:                 hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	protected := r.Group("/")
	protected.Use(authMiddleware)

	lots := protected.Group("/lots")
	{
		lots.GET("", h.listNearbyLots)
		lots.GET("/:id", h.getLot)
		lots.GET("/:id/status", h.getLotStatus)
	}

	bookings := protected.Group("/bookings")
	{
		bookings.POST("", h.createBooking)
		bookings.GET("", h.listBookings)
		bookings.GET("/:id", h.getBooking)
		bookings.PUT("/:id/cancel", h.cancelBooking)
	}

	owner := protected.Group("/owner")
	{
		owner.POST("/lots", h.createLot)
		owner.GET("/lots", h.listOwnedLots)
		owner.PUT("/lots/:id", h.updateLot)
		owner.DELETE("/lots/:id", h.deleteLot)
		owner.POST("/lots/:id/refresh-status", h.refreshLotStatus)
		owner.POST("/lots/:id/camera/enable", h.enableCamera)
		owner.POST("/lots/:id/camera/disable", h.disableCamera)
		owner.POST("/camera/probe", h.probeCamera)
		owner.POST("/lots/:id/slots/regions", h.defineSlotRegions)
		owner.PUT("/lots/:id/slots/:slotId/occupancy", h.overrideSlotOccupancy)
		owner.PUT("/bookings/:id/complete", h.completeBooking)
	}

	protected.GET("/ws/lots/:id", h.watchLotStatus)
}

func (h *Handler) createBooking(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req struct {
		LotID string  `json:"lot_id" binding:"required"`
		Hours float64 `json:"hours" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	booking, err := h.bookingService.Allocate(c.Request.Context(), principal, service.AllocateInput{
		LotID: req.LotID,
		Hours: req.Hours,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.pushLotStatus(c, booking.LotID)
	c.JSON(http.StatusCreated, successResponse(booking))
}

func (h *Handler) listBookings(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	bookings, err := h.bookingService.List(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(bookings))
}

func (h *Handler) getBooking(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	booking, err := h.bookingService.Get(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(booking))
}

func (h *Handler) cancelBooking(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	booking, err := h.bookingService.Cancel(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.pushLotStatus(c, booking.LotID)
	c.JSON(http.StatusOK, successResponse(booking))
}

func (h *Handler) completeBooking(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	booking, err := h.bookingService.Complete(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.pushLotStatus(c, booking.LotID)
	c.JSON(http.StatusOK, successResponse(booking))
}

func (h *Handler) listNearbyLots(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("latitude"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("latitude is required"))
		return
	}
	lng, err := strconv.ParseFloat(c.Query("longitude"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("longitude is required"))
		return
	}

	maxDistance := 10000
	if raw := c.Query("max_distance"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			maxDistance = parsed
		}
	}

	lots, err := h.lotService.ListNearby(c.Request.Context(), lat, lng, maxDistance)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(lots))
}

func (h *Handler) getLot(c *gin.Context) {
	lot, err := h.lotService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(lot))
}

func (h *Handler) getLotStatus(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid lot id"))
		return
	}

	status, err := h.availabilityService.GetLotStatus(c.Request.Context(), lotID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(status))
}

func (h *Handler) refreshLotStatus(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid lot id"))
		return
	}

	status, err := h.availabilityService.RefreshLotStatus(c.Request.Context(), lotID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(status))
}

func (h *Handler) createLot(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req struct {
		Name         string  `json:"name" binding:"required"`
		Address      string  `json:"address" binding:"required"`
		Latitude     float64 `json:"latitude" binding:"required"`
		Longitude    float64 `json:"longitude" binding:"required"`
		PricePerHour float64 `json:"price_per_hour" binding:"required"`
		TotalSlots   int     `json:"total_slots" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	lot, err := h.lotService.Create(c.Request.Context(), principal, service.CreateLotInput{
		Name:         req.Name,
		Address:      req.Address,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		PricePerHour: req.PricePerHour,
		TotalSlots:   req.TotalSlots,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(lot))
}

func (h *Handler) listOwnedLots(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	lots, err := h.lotService.ListOwned(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(lots))
}

func (h *Handler) updateLot(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req struct {
		Name         *string  `json:"name"`
		Address      *string  `json:"address"`
		Latitude     *float64 `json:"latitude"`
		Longitude    *float64 `json:"longitude"`
		PricePerHour *float64 `json:"price_per_hour"`
		TotalSlots   *int     `json:"total_slots"`
		IsActive     *bool    `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	lot, err := h.lotService.Update(c.Request.Context(), principal, c.Param("id"), service.UpdateLotInput{
		Name:         req.Name,
		Address:      req.Address,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		PricePerHour: req.PricePerHour,
		TotalSlots:   req.TotalSlots,
		IsActive:     req.IsActive,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(lot))
}

func (h *Handler) deleteLot(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	if err := h.lotService.Delete(c.Request.Context(), principal, c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{"deleted": true}))
}

func (h *Handler) enableCamera(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req struct {
		Source     string   `json:"source"`
		SourceType string   `json:"source_type"`
		FrameRef   string   `json:"frame_ref"`
		Threshold  *float64 `json:"threshold"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	lot, err := h.lotService.EnableCamera(c.Request.Context(), principal, c.Param("id"), service.EnableCameraInput{
		Source:     req.Source,
		SourceType: model.CameraSourceType(req.SourceType),
		FrameRef:   req.FrameRef,
		Threshold:  req.Threshold,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(lot))
}

func (h *Handler) disableCamera(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	lot, err := h.lotService.DisableCamera(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(lot))
}

func (h *Handler) probeCamera(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req struct {
		Source string `json:"source" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.lotService.ProbeCamera(c.Request.Context(), principal, req.Source); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{"reachable": true}))
}

func (h *Handler) defineSlotRegions(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req struct {
		Slots []struct {
			SlotID      string       `json:"slot_id" binding:"required"`
			Coordinates [][2]float64 `json:"coordinates" binding:"required"`
			FrameWidth  int          `json:"frame_width" binding:"required"`
			FrameHeight int          `json:"frame_height" binding:"required"`
		} `json:"slots" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	regions := make([]service.SlotRegionInput, 0, len(req.Slots))
	for _, s := range req.Slots {
		regions = append(regions, service.SlotRegionInput{
			SlotID:      s.SlotID,
			Polygon:     model.Polygon(s.Coordinates),
			FrameWidth:  s.FrameWidth,
			FrameHeight: s.FrameHeight,
		})
	}

	slots, err := h.lotService.DefineRegions(c.Request.Context(), principal, c.Param("id"), regions)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(slots))
}

func (h *Handler) overrideSlotOccupancy(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req struct {
		IsOccupied *bool `json:"is_occupied" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	slot, err := h.lotService.OverrideSlotOccupancy(c.Request.Context(), principal, c.Param("id"), c.Param("slotId"), *req.IsOccupied)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(slot))
}

// watchLotStatus upgrades to a websocket and streams status snapshots for
// the lot. An initial snapshot is pushed right after subscribing.
func (h *Handler) watchLotStatus(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid lot id"))
		return
	}

	status, err := h.availabilityService.GetLotStatus(c.Request.Context(), lotID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.hub.Subscribe(lotID, conn)
	h.hub.PublishLotStatus(lotID, status)
}

// pushLotStatus refreshes the lot snapshot so websocket subscribers see the
// slot change right away. Best effort; the booking response does not wait on
// a detection failure.
func (h *Handler) pushLotStatus(c *gin.Context, lotID uuid.UUID) {
	if _, err := h.availabilityService.GetLotStatus(c.Request.Context(), lotID); err != nil {
		h.log.Warn().Err(err).Str("lot_id", lotID.String()).Msg("status push after booking change failed")
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrLotInactive),
		errors.Is(err, service.ErrNoAvailability),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, client.ErrDetectorUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
	case errors.Is(err, client.ErrDetection):
		c.JSON(http.StatusBadGateway, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
