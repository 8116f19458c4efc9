package Adhoc

import (
	"NoteDetClient/logger"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

// RegisterRequest 向注册服务器上报本节点信息
type RegisterRequest struct {
	Id          string `json:"id"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	RPCPort     int    `json:"rpcPort"`
	CameraIndex int    `json:"cameraIndex"`
	Destination string `json:"destination"`
	Backend     string `json:"backend"`
	TimeStamp   int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// NodeInfo 每次心跳中不变的部分
type NodeInfo struct {
	IP          string
	WebPort     int
	RPCPort     int
	CameraIndex int
	Destination string
	Backend     string
}

// Heartbeat 按固定间隔向注册服务器发送 NodeInfo
// 节点 id 在进程生命周期内保持不变
type Heartbeat struct {
	Server   RegServerConfig
	Node     NodeInfo
	Interval time.Duration

	id     string
	client *resty.Client
}

func NewHeartbeat(server RegServerConfig, node NodeInfo, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	return &Heartbeat{
		Server:   server,
		Node:     node,
		Interval: interval,
		id:       uuid.NewString(),
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

func (h *Heartbeat) ID() string { return h.id }

// Send 执行一次注册，请求中的 panic 会被 recover 并作为 error 返回
func (h *Heartbeat) Send(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat panic recovered: %v", r)
		}
	}()
	var respBody RegisterResponse
	// 构造请求体
	reqBody := RegisterRequest{
		Id:          h.id,
		IP:          h.Node.IP,
		Port:        h.Node.WebPort,
		RPCPort:     h.Node.RPCPort,
		CameraIndex: h.Node.CameraIndex,
		Destination: h.Node.Destination,
		Backend:     h.Node.Backend,
		TimeStamp:   time.Now().Unix(),
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).     // 可以直接传 struct，resty 会 JSON 编码
		SetResult(&respBody). // 2xx 自动反序列化到 respBody
		Post(h.Server.URL())
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	// 检查 HTTP 状态码
	if resp.IsError() {
		return fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("registration refused for %s", h.id)
	}
	return nil
}

// Run 立即发送一次，之后每隔 Interval 发送，直到 ctx 结束
// 失败只记录日志，不会中断循环
func (h *Heartbeat) Run(ctx context.Context, wg *sync.WaitGroup) {
	if wg != nil {
		defer wg.Done()
	}
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	beat := func() {
		if err := h.Send(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Warn("heartbeat failed", zap.String("server", h.Server.URL()), zap.Error(err))
		}
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("heartbeat stopped", zap.String("id", h.id))
			return
		case <-ticker.C:
			beat()
		}
	}
}
