package appmaster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/common"
)

// DefaultHeartbeatInterval RM 心跳间隔
const DefaultHeartbeatInterval = 1 * time.Second

// 连续心跳失败超过该次数后上报 OnError
const maxConsecutiveHeartbeatFailures = 5

// RMCallbackHandler ResourceManager 回调接收方。
// 同一类回调按到达顺序投递，不同类之间没有顺序保证。
type RMCallbackHandler interface {
	OnContainersAllocated(containers []*common.Container)
	OnContainersCompleted(statuses []*common.ContainerStatus)
	OnShutdownRequest()
	OnNodesUpdated(reports []*common.NodeReport)
	OnError(err error)
	GetProgress() float32
}

// RMClient ResourceManager 客户端抽象
type RMClient interface {
	Register(host string, port int32, trackingURL string) (*RegisterResponse, error)
	RequestContainers(resource common.Resource, hostHints, rackHints []string, priority int32, count int)
	ReleaseContainer(id common.ContainerID)
	Unregister(finalStatus, diagnostics string) error
	Start()
	Stop()
}

// RegisterResponse AM 注册响应
type RegisterResponse struct {
	MaximumResourceCapability common.Resource `json:"maximum_resource_capability"`
	Queue                     string          `json:"queue"`
}

// ContainerAsk 一条容器请求。hosts/racks 是放置提示，可为空
type ContainerAsk struct {
	Resource common.Resource `json:"resource"`
	Hosts    []string        `json:"hosts,omitempty"`
	Racks    []string        `json:"racks,omitempty"`
	Priority int32           `json:"priority"`
	Count    int             `json:"count"`
}

// AllocateRequest 心跳分配请求
type AllocateRequest struct {
	ResponseID int32                `json:"response_id"`
	Ask        []*ContainerAsk      `json:"ask"`
	Release    []common.ContainerID `json:"release"`
	Progress   float32              `json:"progress"`
}

// AllocateResponse 心跳分配响应
type AllocateResponse struct {
	ResponseID          int32                     `json:"response_id"`
	AllocatedContainers []*common.Container       `json:"allocated_containers"`
	CompletedContainers []*common.ContainerStatus `json:"completed_containers"`
	UpdatedNodes        []*common.NodeReport      `json:"updated_nodes"`
	AMCommand           string                    `json:"am_command,omitempty"`
}

// AMCommandShutdown RM 要求 AM 关闭
const AMCommandShutdown = "shutdown"

type registerRequest struct {
	Host        string `json:"host"`
	RPCPort     int32  `json:"rpc_port"`
	TrackingURL string `json:"tracking_url"`
}

type finishRequest struct {
	FinalApplicationStatus string `json:"final_application_status"`
	Diagnostics            string `json:"diagnostics"`
}

type finishResponse struct {
	IsUnregistered bool `json:"is_unregistered"`
}

// resourceManagerClient JSON/HTTP 实现。请求和释放先积压在本地，
// 随下一次心跳成批发往 RM，与回调一起构成异步协议。
type resourceManagerClient struct {
	baseURL    string
	httpClient *http.Client
	handler    RMCallbackHandler
	clock      clock.Clock
	interval   time.Duration
	logger     *zap.Logger

	mu         sync.Mutex
	pending    []*ContainerAsk
	release    []common.ContainerID
	responseID int32
	failures   int
	started    bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewResourceManagerClient 创建 ResourceManager 客户端
func NewResourceManagerClient(rmAddress string, handler RMCallbackHandler, clk clock.Clock, interval time.Duration, logger *zap.Logger) RMClient {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &resourceManagerClient{
		baseURL: "http://" + rmAddress,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		handler:  handler,
		clock:    clk,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Register 向 ResourceManager 注册，阻塞直到收到响应
func (rm *resourceManagerClient) Register(host string, port int32, trackingURL string) (*RegisterResponse, error) {
	request := registerRequest{
		Host:        host,
		RPCPort:     port,
		TrackingURL: trackingURL,
	}

	var response RegisterResponse
	if err := rm.post("/ws/v1/cluster/appmaster/register", request, &response); err != nil {
		return nil, fmt.Errorf("%w: register: %v", common.ErrTransport, err)
	}

	rm.logger.Info("registered with resource manager",
		zap.String("queue", response.Queue),
		zap.Int64("max_memory", response.MaximumResourceCapability.Memory))

	return &response, nil
}

// RequestContainers 积压一条容器请求，随下次心跳发出。非阻塞
func (rm *resourceManagerClient) RequestContainers(resource common.Resource, hostHints, rackHints []string, priority int32, count int) {
	if count <= 0 {
		return
	}
	rm.mu.Lock()
	rm.pending = append(rm.pending, &ContainerAsk{
		Resource: resource,
		Hosts:    hostHints,
		Racks:    rackHints,
		Priority: priority,
		Count:    count,
	})
	rm.mu.Unlock()

	rm.logger.Debug("queued container request", zap.Int("count", count))
}

// ReleaseContainer 积压一条容器释放，随下次心跳发出。非阻塞
func (rm *resourceManagerClient) ReleaseContainer(id common.ContainerID) {
	rm.mu.Lock()
	rm.release = append(rm.release, id)
	rm.mu.Unlock()

	rm.logger.Debug("queued container release", zap.String("container_id", id.String()))
}

// Unregister 从 ResourceManager 注销，阻塞
func (rm *resourceManagerClient) Unregister(finalStatus, diagnostics string) error {
	request := finishRequest{
		FinalApplicationStatus: finalStatus,
		Diagnostics:            diagnostics,
	}

	var response finishResponse
	if err := rm.post("/ws/v1/cluster/appmaster/finish", request, &response); err != nil {
		return fmt.Errorf("%w: unregister: %v", common.ErrTransport, err)
	}

	rm.logger.Info("unregistered from resource manager",
		zap.String("final_status", finalStatus),
		zap.Bool("unregistered", response.IsUnregistered))

	return nil
}

// Start 启动心跳循环
func (rm *resourceManagerClient) Start() {
	rm.mu.Lock()
	rm.started = true
	rm.mu.Unlock()
	go rm.heartbeatLoop()
}

// Stop 停止心跳循环，幂等。未启动过时直接返回
func (rm *resourceManagerClient) Stop() {
	rm.stopOnce.Do(func() {
		close(rm.stopCh)
	})
	rm.mu.Lock()
	started := rm.started
	rm.mu.Unlock()
	if started {
		<-rm.doneCh
	}
}

// heartbeatLoop 按固定间隔发送 allocate 心跳并分发响应回调
func (rm *resourceManagerClient) heartbeatLoop() {
	defer close(rm.doneCh)

	ticker := rm.clock.Ticker(rm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rm.heartbeat()
		case <-rm.stopCh:
			return
		}
	}
}

func (rm *resourceManagerClient) heartbeat() {
	rm.mu.Lock()
	ask := rm.pending
	release := rm.release
	rm.pending = nil
	rm.release = nil
	rm.responseID++
	responseID := rm.responseID
	rm.mu.Unlock()

	request := AllocateRequest{
		ResponseID: responseID,
		Ask:        ask,
		Release:    release,
		Progress:   rm.handler.GetProgress(),
	}

	var response AllocateResponse
	if err := rm.post("/ws/v1/cluster/appmaster/allocate", request, &response); err != nil {
		// 失败时把积压内容放回队首，下次心跳重试
		rm.mu.Lock()
		rm.pending = append(ask, rm.pending...)
		rm.release = append(release, rm.release...)
		rm.failures++
		failures := rm.failures
		rm.mu.Unlock()

		rm.logger.Warn("heartbeat failed",
			zap.Int("consecutive_failures", failures),
			zap.Error(err))

		if failures >= maxConsecutiveHeartbeatFailures {
			rm.handler.OnError(fmt.Errorf("%w: heartbeat: %v", common.ErrTransport, err))
		}
		return
	}

	rm.mu.Lock()
	rm.failures = 0
	rm.mu.Unlock()

	if response.AMCommand == AMCommandShutdown {
		rm.handler.OnShutdownRequest()
	}
	if len(response.AllocatedContainers) > 0 {
		rm.handler.OnContainersAllocated(response.AllocatedContainers)
	}
	if len(response.CompletedContainers) > 0 {
		rm.handler.OnContainersCompleted(response.CompletedContainers)
	}
	if len(response.UpdatedNodes) > 0 {
		rm.handler.OnNodesUpdated(response.UpdatedNodes)
	}
}

func (rm *resourceManagerClient) post(path string, request, response interface{}) error {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := rm.httpClient.Post(rm.baseURL+path, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
