// internal/handler/discovery_handler.go
package handler

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"node-service/internal/config"
	"node-service/internal/discovery"
	"node-service/internal/model"
	"node-service/internal/repository"
	"node-service/internal/service"
	"node-service/internal/utils"
)

// DiscoveryHandler handles device discovery requests
type DiscoveryHandler struct {
	discoveryService *service.DiscoveryService
	defaultTimeout   time.Duration
	serial           config.SerialConfig
	logger           *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(discoveryService *service.DiscoveryService, cfg *config.Config, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		discoveryService: discoveryService,
		defaultTimeout:   cfg.Discovery.DefaultTimeout,
		serial:           cfg.Serial,
		logger:           utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/discovery")
	{
		group.GET("/ports", h.ListPorts)
		group.GET("/devices", h.AvailableDevices)
		group.GET("/devices/id", h.ReadDeviceID)
		group.GET("/runs", h.ListRuns)
		group.GET("/runs/:id", h.GetRun)
	}
}

// ListPorts lists enumerable serial ports
// @Summary List serial ports
// @Description List the serial ports visible on this host, enriched with USB metadata where available
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{count=int,ports=[]model.Port}} "Ports listed"
// @Failure 500 {object} utils.APIResponse "Enumeration failed"
// @Router /discovery/ports [get]
func (h *DiscoveryHandler) ListPorts(c *gin.Context) {
	ports, err := h.discoveryService.ListPorts(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ports listed", gin.H{
		"count": len(ports),
		"ports": ports,
	})
}

// AvailableDevices probes ports and returns the device table
// @Summary Discover devices
// @Description Probe every enumerable port (or the listed ones) concurrently and return one row per port in request order
// @Tags Discovery
// @Produce json
// @Param baudrate query int false "Baud rate" default(9600)
// @Param timeout query string false "Per-port timeout, a duration (2s) or seconds (1.5)"
// @Param ports query string false "Comma separated port names; omit to probe every port"
// @Param data_bits query int false "Data bits"
// @Param stop_bits query int false "Stop bits"
// @Param parity query string false "Parity" Enums(none, odd, even, mark, space)
// @Success 200 {object} utils.APIResponse{data=model.DiscoveryResult} "Discovery completed"
// @Failure 400 {object} utils.APIResponse "Invalid parameters"
// @Failure 500 {object} utils.APIResponse "Discovery failed"
// @Router /discovery/devices [get]
func (h *DiscoveryHandler) AvailableDevices(c *gin.Context) {
	params, validation := h.parseProbeParams(c)
	if len(validation) > 0 {
		utils.ValidationErrorResponse(c, validation)
		return
	}

	req := service.AvailableDevicesRequest{
		BaudRate: params.baudRate,
		Timeout:  params.timeout,
		Settings: params.settings,
	}
	if raw, ok := c.GetQuery("ports"); ok {
		req.Ports = parsePorts(raw)
	}

	result, err := h.discoveryService.AvailableDevices(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "Failed to discover devices", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Discovery completed", result)
}

// ReadDeviceID identifies the node on one port
// @Summary Read device identity
// @Description Request the identity of the node on one port. Timeouts and transport failures are reported as errors.
// @Tags Discovery
// @Produce json
// @Param port query string true "Port name"
// @Param baudrate query int false "Baud rate" default(9600)
// @Param timeout query string false "Timeout, a duration (2s) or seconds (1.5)"
// @Param data_bits query int false "Data bits"
// @Param stop_bits query int false "Stop bits"
// @Param parity query string false "Parity" Enums(none, odd, even, mark, space)
// @Success 200 {object} utils.APIResponse{data=model.DeviceID} "Device identified"
// @Failure 400 {object} utils.APIResponse "Invalid parameters"
// @Failure 502 {object} utils.APIResponse "Transport error"
// @Failure 504 {object} utils.APIResponse "Device did not answer"
// @Router /discovery/devices/id [get]
func (h *DiscoveryHandler) ReadDeviceID(c *gin.Context) {
	params, validation := h.parseProbeParams(c)
	port := strings.TrimSpace(c.Query("port"))
	if port == "" {
		validation["port"] = "port is required"
	}
	if len(validation) > 0 {
		utils.ValidationErrorResponse(c, validation)
		return
	}

	id, err := h.discoveryService.ReadDeviceID(c.Request.Context(), service.ReadDeviceIDRequest{
		Port:     port,
		BaudRate: params.baudRate,
		Timeout:  params.timeout,
		Settings: params.settings,
	})
	if err != nil {
		h.respondError(c, "Failed to read device ID", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device identified", id)
}

// ListRuns lists recorded discovery runs
// @Summary List discovery runs
// @Description List recorded discovery runs, newest first
// @Tags Discovery
// @Produce json
// @Param operation query string false "Operation" Enums(available_devices, read_device_id)
// @Param port query string false "Only runs that probed this port"
// @Param since query string false "RFC 3339 lower bound on start time"
// @Param limit query int false "Maximum runs returned"
// @Success 200 {object} utils.APIResponse{data=object{count=int,runs=[]model.DiscoveryResult}} "Runs listed"
// @Failure 400 {object} utils.APIResponse "Invalid parameters"
// @Router /discovery/runs [get]
func (h *DiscoveryHandler) ListRuns(c *gin.Context) {
	filter := &repository.RunFilter{
		Operation: model.Operation(c.Query("operation")),
		Port:      c.Query("port"),
	}
	validation := make(map[string]string)
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			validation["since"] = "must be an RFC 3339 timestamp"
		} else {
			filter.Since = &since
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			validation["limit"] = "must be a non-negative integer"
		}
		filter.Limit = limit
	}
	if len(validation) > 0 {
		utils.ValidationErrorResponse(c, validation)
		return
	}

	runs, err := h.discoveryService.ListRuns(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Runs listed", gin.H{
		"count": len(runs),
		"runs":  runs,
	})
}

// GetRun returns one recorded discovery run
// @Summary Get discovery run
// @Tags Discovery
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} utils.APIResponse{data=model.DiscoveryResult} "Run found"
// @Failure 400 {object} utils.APIResponse "Invalid run ID"
// @Failure 404 {object} utils.APIResponse "Run not found"
// @Router /discovery/runs/{id} [get]
func (h *DiscoveryHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid run ID", err)
		return
	}

	run, err := h.discoveryService.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Run not found", err)
			return
		}
		h.logger.Error("Failed to get run", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get run", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Run found", run)
}

type probeParams struct {
	baudRate int
	timeout  time.Duration
	settings model.SerialSettings
}

// parseProbeParams reads the query parameters shared by both probing
// endpoints, falling back to configured defaults.
func (h *DiscoveryHandler) parseProbeParams(c *gin.Context) (probeParams, map[string]string) {
	params := probeParams{
		timeout: h.defaultTimeout,
		settings: model.SerialSettings{
			DataBits: h.serial.DataBits,
			StopBits: h.serial.StopBits,
			Parity:   h.serial.Parity,
		},
	}
	validation := make(map[string]string)

	if raw := c.Query("baudrate"); raw != "" {
		baud, err := strconv.Atoi(raw)
		if err != nil || baud <= 0 {
			validation["baudrate"] = "must be a positive integer"
		}
		params.baudRate = baud
	}
	if raw := c.Query("timeout"); raw != "" {
		timeout, err := parseTimeout(raw)
		if err != nil {
			validation["timeout"] = err.Error()
		}
		params.timeout = timeout
	}
	if raw := c.Query("data_bits"); raw != "" {
		bits, err := strconv.Atoi(raw)
		if err != nil || bits < 5 || bits > 8 {
			validation["data_bits"] = "must be between 5 and 8"
		}
		params.settings.DataBits = bits
	}
	if raw := c.Query("stop_bits"); raw != "" {
		bits, err := strconv.Atoi(raw)
		if err != nil || bits < 1 || bits > 2 {
			validation["stop_bits"] = "must be 1 or 2"
		}
		params.settings.StopBits = bits
	}
	if raw := c.Query("parity"); raw != "" {
		params.settings.Parity = strings.ToLower(raw)
	}

	return params, validation
}

// parseTimeout accepts a Go duration or a number of seconds
func parseTimeout(raw string) (time.Duration, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		if d < 0 {
			return 0, errors.New("must not be negative")
		}
		return d, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	if seconds < 0 {
		return 0, errors.New("must not be negative")
	}
	if seconds >= float64(math.MaxInt64)/float64(time.Second) {
		return 0, fmt.Errorf("timeout %q is out of range", raw)
	}
	d := time.Duration(seconds * float64(time.Second))
	if d == 0 && seconds > 0 {
		d = time.Nanosecond
	}
	return d, nil
}

func parsePorts(raw string) []model.Port {
	ports := []model.Port{}
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			ports = append(ports, model.Port{Name: name})
		}
	}
	return ports
}

// respondError maps service errors onto HTTP statuses
func (h *DiscoveryHandler) respondError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, service.ErrPortRequired),
		errors.Is(err, service.ErrInvalidBaudRate),
		errors.Is(err, service.ErrInvalidTimeout):
		utils.ErrorResponse(c, http.StatusBadRequest, message, err)
	case errors.Is(err, discovery.ErrTimeout):
		utils.ErrorResponse(c, http.StatusGatewayTimeout, message, err)
	case errors.Is(err, discovery.ErrTransport):
		utils.ErrorResponse(c, http.StatusBadGateway, message, err)
	default:
		h.logger.Error(message, zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, message, err)
	}
}
