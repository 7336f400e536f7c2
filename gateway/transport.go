// gateway/transport.go
// 出站传输：HTTP/3 客户端把消息 POST 到对端网关入口
// fire-and-forget：投递失败只记日志，对端的重试/退款策略不在金库侧
package gateway

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"custody/logs"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// createHTTP3Client 创建非单例的 HTTP/3 客户端
func createHTTP3Client(timeout time.Duration) *http.Client {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
		MaxVersion:         tls.VersionTLS13,
		ClientSessionCache: tls.NewLRUClientSessionCache(128),
		// ALPN协议支持
		NextProtos: []string{"h3", "h3-29", "h3-28", "h3-27"},
	}

	tr := &http3.Transport{
		TLSClientConfig: tlsCfg,
		QUICConfig: &quic.Config{
			KeepAlivePeriod: 10 * time.Second,
			MaxIdleTimeout:  5 * time.Minute,
			Allow0RTT:       true,
		},
	}

	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}

// runOutbound 出站 worker：逐条把消息投递到对端
func (g *Gateway) runOutbound() {
	defer g.wg.Done()
	client := createHTTP3Client(g.cfg.SendTimeout)

	for {
		select {
		case <-g.stopChan:
			return
		case out := <-g.outbound:
			if err := postMessage(client, out); err != nil {
				logs.Warn("[Gateway] delivery of %s to %s failed: %v",
					out.msg.MessageID[:8], out.endpoint, err)
			}
		}
	}
}

func postMessage(client *http.Client, out *outboundMsg) error {
	data, err := json.Marshal(out.msg)
	if err != nil {
		return err
	}
	resp, err := client.Post(out.endpoint+"/gateway/message", "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote returned %d", resp.StatusCode)
	}
	return nil
}
