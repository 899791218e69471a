package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/service-registry/internal/core/model"
	discservice "github.com/hewenyu/service-registry/internal/discovery/service"
	regservice "github.com/hewenyu/service-registry/internal/registration/service"
	serviceStore "github.com/hewenyu/service-registry/internal/store/service"
)

// ServiceHandler 处理服务注册与发现相关的HTTP请求
type ServiceHandler struct {
	registration regservice.RegistrationService
	discovery    discservice.DiscoveryService
}

// NewServiceHandler 创建一个新的服务处理器
func NewServiceHandler(registration regservice.RegistrationService, discovery discservice.DiscoveryService) *ServiceHandler {
	return &ServiceHandler{
		registration: registration,
		discovery:    discovery,
	}
}

// RegisterRoutes 注册API路由
func (h *ServiceHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1")

	// 服务注册
	api.POST("/services/register", h.registerService)

	// 服务列表
	api.GET("/services", h.listServices)

	// 服务详情
	api.GET("/services/:service_id", h.getService)

	// 服务注销
	api.DELETE("/services/:service_id", h.deregisterService)

	// 按名称发现服务
	api.GET("/services/discover/:service_name", h.discoverService)

	// 健康状态上报
	api.POST("/services/:service_id/health", h.updateHealth)

	// 服务事件
	api.GET("/services/:service_id/events", h.listServiceEvents)
}

// 返回成功响应
func successResponse(code int, message string, data interface{}) *model.ApiResponse {
	return &model.ApiResponse{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// 返回错误响应
func errorResponse(code int, message string) *model.ApiResponse {
	return &model.ApiResponse{
		Code:    code,
		Message: message,
	}
}

// writeStoreError 把存储层错误翻译为HTTP响应
// 只暴露稳定的错误分类和提示信息，驱动细节不出边界
func writeStoreError(c echo.Context, err error, fallback string) error {
	if se, ok := serviceStore.AsStoreError(err); ok {
		status := http.StatusInternalServerError
		switch se.Code {
		case serviceStore.ErrNotFound:
			status = http.StatusNotFound
		case serviceStore.ErrConflict:
			status = http.StatusConflict
		case serviceStore.ErrInvalidArgument:
			status = http.StatusBadRequest
		case serviceStore.ErrUnavailable:
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, errorResponse(status, se.Message))
	}
	return c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, fallback))
}

// registerService 处理服务注册请求
// 新建记录返回201，重复注册按更新处理返回200
func (h *ServiceHandler) registerService(c echo.Context) error {
	req := new(model.RegisterServiceRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "无效的请求参数: "+err.Error()))
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "参数验证失败: "+err.Error()))
	}

	svc, created, err := h.registration.Register(c.Request().Context(), req)
	if err != nil {
		return writeStoreError(c, err, "注册服务失败")
	}

	if created {
		return c.JSON(http.StatusCreated, successResponse(http.StatusCreated, "服务注册成功", svc))
	}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "服务注册信息已更新", svc))
}

// listServices 处理服务列表查询请求
func (h *ServiceHandler) listServices(c echo.Context) error {
	services, err := h.discovery.ListServices(
		c.Request().Context(),
		c.QueryParam("type"),
		c.QueryParam("status"),
		c.QueryParam("tag"),
	)
	if err != nil {
		return writeStoreError(c, err, "查询服务列表失败")
	}

	data := model.ServiceListData{Services: services, Total: len(services)}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", data))
}

// getService 处理服务详情查询请求
func (h *ServiceHandler) getService(c echo.Context) error {
	serviceID := c.Param("service_id")
	if serviceID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务ID不能为空"))
	}

	svc, err := h.discovery.GetService(c.Request().Context(), serviceID)
	if err != nil {
		return writeStoreError(c, err, "查询服务详情失败")
	}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", svc))
}

// deregisterService 处理服务注销请求
func (h *ServiceHandler) deregisterService(c echo.Context) error {
	serviceID := c.Param("service_id")
	if serviceID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务ID不能为空"))
	}

	if err := h.registration.Deregister(c.Request().Context(), serviceID); err != nil {
		return writeStoreError(c, err, "注销服务失败")
	}
	return c.NoContent(http.StatusNoContent)
}

// discoverService 处理按名称发现服务的请求
// 无匹配实例返回空列表而非404
func (h *ServiceHandler) discoverService(c echo.Context) error {
	services, err := h.discovery.Discover(
		c.Request().Context(),
		c.Param("service_name"),
		c.QueryParam("status"),
	)
	if err != nil {
		return writeStoreError(c, err, "服务发现失败")
	}

	data := model.ServiceListData{Services: services, Total: len(services)}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", data))
}

// updateHealth 处理健康状态上报请求
func (h *ServiceHandler) updateHealth(c echo.Context) error {
	serviceID := c.Param("service_id")
	if serviceID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务ID不能为空"))
	}

	raw := c.QueryParam("healthy")
	if raw == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "缺少healthy参数"))
	}
	healthy, err := strconv.ParseBool(raw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "healthy参数必须为布尔值"))
	}

	svc, err := h.registration.ReportHealth(c.Request().Context(), serviceID, healthy)
	if err != nil {
		return writeStoreError(c, err, "更新健康状态失败")
	}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "健康状态已更新", svc))
}

// listServiceEvents 处理服务事件查询请求
func (h *ServiceHandler) listServiceEvents(c echo.Context) error {
	serviceID := c.Param("service_id")
	if serviceID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务ID不能为空"))
	}

	events, err := h.discovery.ListServiceEvents(c.Request().Context(), serviceID)
	if err != nil {
		return writeStoreError(c, err, "查询服务事件失败")
	}

	data := model.ServiceEventListData{Events: events, Total: len(events)}
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", data))
}
