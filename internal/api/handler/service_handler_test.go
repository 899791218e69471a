package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/service-registry/internal/config"
	"github.com/hewenyu/service-registry/internal/core/model"
	discservice "github.com/hewenyu/service-registry/internal/discovery/service"
	regservice "github.com/hewenyu/service-registry/internal/registration/service"
	serviceStore "github.com/hewenyu/service-registry/internal/store/service"
)

// TestServer 测试服务器和存储
type TestServer struct {
	Echo         *echo.Echo
	Store        *serviceStore.MemoryServiceStore
	Registration regservice.RegistrationService
	Server       *httptest.Server
}

// CustomValidator 自定义验证器
type CustomValidator struct {
	validator *validator.Validate
}

// Validate 实现echo.Validator接口
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// newTestServer 创建测试服务器
func newTestServer() *TestServer {
	store := serviceStore.NewMemoryServiceStore()
	logger := config.NewNopLogger()

	registration := regservice.NewRegistrationService(store, logger, 5*time.Minute)
	discovery := discservice.NewDiscoveryService(store, logger)

	// 创建Echo实例
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}
	e.Use(middleware.Recover())

	// 注册路由
	serviceHandler := NewServiceHandler(registration, discovery)
	serviceHandler.RegisterRoutes(e)
	healthHandler := NewHealthHandler(store)
	healthHandler.RegisterRoutes(e)

	return &TestServer{
		Echo:         e,
		Store:        store,
		Registration: registration,
		Server:       httptest.NewServer(e),
	}
}

// Close 关闭测试服务器
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// postJSON 发送JSON请求并解析响应信封
func postJSON(t *testing.T, url string, body interface{}) (*http.Response, *model.ApiResponse) {
	t.Helper()
	jsonData, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(jsonData))
	require.NoError(t, err)

	var result model.ApiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	return resp, &result
}

// getJSON 发送GET请求并解析响应信封
func getJSON(t *testing.T, url string) (*http.Response, *model.ApiResponse) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)

	var result model.ApiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	return resp, &result
}

func registerBody() map[string]interface{} {
	return map[string]interface{}{
		"name": "user-service",
		"type": "api",
		"host": "10.0.0.1",
		"port": 8080,
	}
}

// 测试服务注册API
func TestRegisterServiceAPI(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()
	url := ts.Server.URL + "/api/v1/services/register"

	t.Run("Valid Registration", func(t *testing.T) {
		resp, result := postJSON(t, url, registerBody())
		assert.Equal(t, http.StatusCreated, resp.StatusCode, "首次注册应该返回201")
		assert.Equal(t, http.StatusCreated, result.Code)
		assert.Contains(t, result.Message, "服务注册成功")

		data := result.Data.(map[string]interface{})
		serviceID := data["id"].(string)
		assert.NotEmpty(t, serviceID)
		assert.Equal(t, "unknown", data["status"], "新服务状态应该为unknown")
		assert.Equal(t, float64(1), data["version"])

		// 验证服务已写入存储
		svc, err := ts.Store.GetService(context.Background(), serviceID)
		require.NoError(t, err)
		assert.Equal(t, "user-service", svc.Name)
		assert.Equal(t, "10.0.0.1", svc.Host)
		assert.Equal(t, 8080, svc.Port)
	})

	t.Run("Re-registration Updates", func(t *testing.T) {
		_, first := postJSON(t, url, registerBody())
		firstData := first.Data.(map[string]interface{})

		body := registerBody()
		body["health_check_endpoint"] = "/healthz"
		resp, second := postJSON(t, url, body)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "重复注册应该返回200")
		assert.Contains(t, second.Message, "已更新")

		secondData := second.Data.(map[string]interface{})
		assert.Equal(t, firstData["id"], secondData["id"], "重复注册应该复用原有记录")
		assert.Equal(t, "/healthz", secondData["health_check_endpoint"])
	})

	t.Run("Missing Required Fields", func(t *testing.T) {
		resp, result := postJSON(t, url, map[string]interface{}{
			"name": "incomplete-service",
			"port": 8080,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, result.Message, "参数验证失败")
	})

	t.Run("Invalid Port", func(t *testing.T) {
		body := registerBody()
		body["port"] = 70000
		resp, result := postJSON(t, url, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, result.Message, "参数验证失败")
	})

	t.Run("Invalid Service Name", func(t *testing.T) {
		body := registerBody()
		body["name"] = "user service!"
		resp, _ := postJSON(t, url, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "非法服务名应该返回400")
	})

	t.Run("Invalid Service Type", func(t *testing.T) {
		body := registerBody()
		body["type"] = "daemon"
		resp, result := postJSON(t, url, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, result.Message, "参数验证失败")
	})
}

// 测试服务列表API
func TestListServicesAPI(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()
	ctx := context.Background()

	_, err := ts.Store.Create(ctx, &model.Service{
		Name: "api-gateway", Type: model.TypeGateway, Host: "10.0.0.1", Port: 8080,
		Metadata: model.Metadata{Tags: map[string]string{"team": "platform"}},
	})
	require.NoError(t, err)
	_, err = ts.Store.Create(ctx, &model.Service{
		Name: "batch-worker", Type: model.TypeWorker, Host: "10.0.0.2", Port: 9000,
		Metadata: model.Metadata{Tags: map[string]string{"team": "data"}},
	})
	require.NoError(t, err)

	t.Run("List All", func(t *testing.T) {
		resp, result := getJSON(t, ts.Server.URL+"/api/v1/services")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, float64(2), data["total"])
		services := data["services"].([]interface{})
		first := services[0].(map[string]interface{})
		assert.Equal(t, "api-gateway", first["name"], "列表应该按名称升序排列")
	})

	t.Run("Filter By Tag", func(t *testing.T) {
		resp, result := getJSON(t, ts.Server.URL+"/api/v1/services?tag=team=data")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, float64(1), data["total"])
	})

	t.Run("Filter By Type", func(t *testing.T) {
		resp, result := getJSON(t, ts.Server.URL+"/api/v1/services?type=worker")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, float64(1), data["total"])
	})

	t.Run("Malformed Tag Filter", func(t *testing.T) {
		resp, result := getJSON(t, ts.Server.URL+"/api/v1/services?tag=team")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "缺少等号的标签过滤应该返回400")
		assert.Equal(t, http.StatusBadRequest, result.Code)
	})
}

// 测试服务详情与注销API
func TestGetAndDeleteServiceAPI(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()
	ctx := context.Background()

	svc, err := ts.Store.Create(ctx, &model.Service{
		Name: "user-service", Type: model.TypeAPI, Host: "10.0.0.1", Port: 8080,
	})
	require.NoError(t, err)

	t.Run("Get Service", func(t *testing.T) {
		resp, result := getJSON(t, fmt.Sprintf("%s/api/v1/services/%s", ts.Server.URL, svc.ID))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, svc.ID, data["id"])
	})

	t.Run("Get Non-existent Service", func(t *testing.T) {
		resp, result := getJSON(t, ts.Server.URL+"/api/v1/services/non-existent-id")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, http.StatusNotFound, result.Code)
	})

	t.Run("Delete Service", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete,
			fmt.Sprintf("%s/api/v1/services/%s", ts.Server.URL, svc.ID), nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode, "注销成功应该返回204")

		// 验证服务已从存储中删除
		_, err = ts.Store.GetService(ctx, svc.ID)
		assert.True(t, serviceStore.IsNotFound(err))
	})

	t.Run("Delete Non-existent Service", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete,
			fmt.Sprintf("%s/api/v1/services/%s", ts.Server.URL, svc.ID), nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "重复注销应该返回404")
	})
}

// 测试服务发现API
func TestDiscoverServiceAPI(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()
	ctx := context.Background()

	healthy, err := ts.Store.Create(ctx, &model.Service{
		Name: "user-service", Type: model.TypeAPI, Host: "10.0.0.1", Port: 8080,
	})
	require.NoError(t, err)
	_, err = ts.Store.Create(ctx, &model.Service{
		Name: "user-service", Type: model.TypeAPI, Host: "10.0.0.2", Port: 8080,
	})
	require.NoError(t, err)

	_, err = ts.Store.UpdateHealthStatus(ctx, healthy.ID, true, nil)
	require.NoError(t, err)

	t.Run("Discover Healthy Only", func(t *testing.T) {
		resp, result := getJSON(t, ts.Server.URL+"/api/v1/services/discover/user-service")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, float64(1), data["total"], "默认只应该返回健康实例")
	})

	t.Run("Discover Any Status", func(t *testing.T) {
		resp, result := getJSON(t, ts.Server.URL+"/api/v1/services/discover/user-service?status=any")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, float64(2), data["total"], "any模式应该包含unknown状态的实例")
	})

	t.Run("Discover Unknown Service", func(t *testing.T) {
		resp, result := getJSON(t, ts.Server.URL+"/api/v1/services/discover/missing-service")
		assert.Equal(t, http.StatusOK, resp.StatusCode, "无匹配实例应该返回空列表而非404")

		data := result.Data.(map[string]interface{})
		assert.Equal(t, float64(0), data["total"])
	})
}

// 测试健康状态上报API
func TestHealthReportAPI(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()
	ctx := context.Background()

	svc, err := ts.Store.Create(ctx, &model.Service{
		Name: "user-service", Type: model.TypeAPI, Host: "10.0.0.1", Port: 8080,
	})
	require.NoError(t, err)
	healthURL := fmt.Sprintf("%s/api/v1/services/%s/health", ts.Server.URL, svc.ID)

	t.Run("Report Healthy", func(t *testing.T) {
		resp, result := postJSON(t, healthURL+"?healthy=true", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, "healthy", data["status"], "成功信号应该使服务变为健康")
	})

	t.Run("Failure Hysteresis Over HTTP", func(t *testing.T) {
		// 连续三次失败才降级为unhealthy
		for i, want := range []string{"degraded", "degraded", "unhealthy"} {
			_, result := postJSON(t, healthURL+"?healthy=false", nil)
			data := result.Data.(map[string]interface{})
			assert.Equal(t, want, data["status"], "第%d次失败后的状态", i+1)
		}
	})

	t.Run("Missing Healthy Param", func(t *testing.T) {
		resp, result := postJSON(t, healthURL, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, result.Message, "healthy")
	})

	t.Run("Invalid Healthy Param", func(t *testing.T) {
		resp, _ := postJSON(t, healthURL+"?healthy=maybe", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Report For Non-existent Service", func(t *testing.T) {
		resp, _ := postJSON(t, ts.Server.URL+"/api/v1/services/non-existent-id/health?healthy=true", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

// 测试服务事件API
func TestServiceEventsAPI(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()
	ctx := context.Background()

	svc, err := ts.Store.Create(ctx, &model.Service{
		Name: "user-service", Type: model.TypeAPI, Host: "10.0.0.1", Port: 8080,
	})
	require.NoError(t, err)
	_, err = ts.Store.UpdateHealthStatus(ctx, svc.ID, true, nil)
	require.NoError(t, err)

	t.Run("List Events", func(t *testing.T) {
		resp, result := getJSON(t, fmt.Sprintf("%s/api/v1/services/%s/events", ts.Server.URL, svc.ID))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		data := result.Data.(map[string]interface{})
		assert.Equal(t, float64(2), data["total"])
		events := data["events"].([]interface{})
		first := events[0].(map[string]interface{})
		assert.Equal(t, "service_registered", first["event_type"], "注册事件应该排在最前")
	})

	t.Run("Events For Non-existent Service", func(t *testing.T) {
		resp, _ := getJSON(t, ts.Server.URL+"/api/v1/services/non-existent-id/events")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

// 测试健康检查端点
func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	resp, err := http.Get(ts.Server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "healthy", result.Status)
	assert.NotNil(t, result.Details)
}
