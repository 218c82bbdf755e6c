package appmaster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/common"
)

// NMCallbackHandler NodeManager 回调接收方
type NMCallbackHandler interface {
	OnContainerStarted(id common.ContainerID)
	OnContainerStopped(id common.ContainerID)
	OnContainerStatusReceived(id common.ContainerID, status *common.ContainerStatus)
	OnContainerStartError(id common.ContainerID, err error)
	OnContainerStopError(id common.ContainerID, err error)
}

// NMClient NodeManager 客户端抽象。三个操作都是非阻塞的，
// 结果通过回调上报
type NMClient interface {
	StartContainer(container *common.Container, launchCtx *common.ContainerLaunchContext)
	StopContainer(id common.ContainerID, node common.NodeID)
	GetContainerStatus(id common.ContainerID, node common.NodeID)
}

type startContainerRequest struct {
	ContainerID            common.ContainerID            `json:"container_id"`
	ContainerLaunchContext common.ContainerLaunchContext `json:"container_launch_context"`
}

type stopContainerRequest struct {
	ContainerID common.ContainerID `json:"container_id"`
}

// nodeManagerClient JSON/HTTP 实现，每个操作在自己的 goroutine 上完成
type nodeManagerClient struct {
	httpClient *http.Client
	handler    NMCallbackHandler
	logger     *zap.Logger
}

// NewNodeManagerClient 创建 NodeManager 客户端
func NewNodeManagerClient(handler NMCallbackHandler, logger *zap.Logger) NMClient {
	return &nodeManagerClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		handler: handler,
		logger:  logger,
	}
}

// StartContainer 请求 NodeManager 启动容器
func (nm *nodeManagerClient) StartContainer(container *common.Container, launchCtx *common.ContainerLaunchContext) {
	go func() {
		url := fmt.Sprintf("http://%s/ws/v1/node/containers/%s/start",
			container.NodeID.Address(), container.ID)
		request := startContainerRequest{
			ContainerID:            container.ID,
			ContainerLaunchContext: *launchCtx,
		}

		if err := nm.post(url, request); err != nil {
			nm.handler.OnContainerStartError(container.ID, err)
			return
		}

		nm.logger.Info("container start request accepted",
			zap.String("container_id", container.ID.String()),
			zap.String("node", container.NodeID.Address()))
		nm.handler.OnContainerStarted(container.ID)
	}()
}

// StopContainer 请求 NodeManager 停止容器
func (nm *nodeManagerClient) StopContainer(id common.ContainerID, node common.NodeID) {
	go func() {
		url := fmt.Sprintf("http://%s/ws/v1/node/containers/%s/stop", node.Address(), id)
		if err := nm.post(url, stopContainerRequest{ContainerID: id}); err != nil {
			nm.handler.OnContainerStopError(id, err)
			return
		}

		nm.logger.Info("container stop request accepted",
			zap.String("container_id", id.String()))
		nm.handler.OnContainerStopped(id)
	}()
}

// GetContainerStatus 查询容器状态
func (nm *nodeManagerClient) GetContainerStatus(id common.ContainerID, node common.NodeID) {
	go func() {
		url := fmt.Sprintf("http://%s/ws/v1/node/containers/%s/status", node.Address(), id)

		resp, err := nm.httpClient.Get(url)
		if err != nil {
			nm.logger.Warn("container status query failed",
				zap.String("container_id", id.String()),
				zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			nm.logger.Warn("container status query rejected",
				zap.String("container_id", id.String()),
				zap.Int("status", resp.StatusCode))
			return
		}

		var response struct {
			ContainerStatus common.ContainerStatus `json:"container_status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			nm.logger.Warn("failed to decode container status",
				zap.String("container_id", id.String()),
				zap.Error(err))
			return
		}
		nm.handler.OnContainerStatusReceived(id, &response.ContainerStatus)
	}()
}

func (nm *nodeManagerClient) post(url string, request interface{}) error {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := nm.httpClient.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("request failed with status: %d", resp.StatusCode)
	}
	return nil
}
