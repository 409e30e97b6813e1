// Package events 把連結變更事件發布到 NATS JetStream
//
// 事件在快取更新之後才發布，訂閱者看到的一定是已提交的狀態。
// 發布失敗不會回滾寫入（資料庫才是真實來源），只會記錄日誌。
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/koopa0/system-design/14-link-redirector/internal/links"
)

// Config JetStream 設定
type Config struct {
	URL      string
	Stream   string
	Subjects []string
	MaxAge   time.Duration
	Storage  string // "file" 或 "memory"
}

// jetStream Publisher 需要的 JetStream 子集（nats.JetStreamContext 滿足）
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher 實現 links.Publisher
type Publisher struct {
	conn   *nats.Conn
	js     jetStream
	logger *slog.Logger
}

// Connect 連接 NATS 並確保 Stream 存在
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events")

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("link-redirector"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("創建 JetStream 上下文失敗: %w", err)
	}

	if err := ensureStream(js, cfg); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("nats connected", "url", cfg.URL, "stream", cfg.Stream)
	return &Publisher{conn: conn, js: js, logger: logger}, nil
}

// ensureStream 不存在則建立，存在則更新設定
func ensureStream(js nats.JetStreamManager, cfg Config) error {
	storage := nats.FileStorage
	if cfg.Storage == "memory" {
		storage = nats.MemoryStorage
	}

	streamCfg := &nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   cfg.Subjects,
		Storage:    storage,
		MaxAge:     cfg.MaxAge,
		Replicas:   1,
		Duplicates: 2 * time.Minute,
	}

	_, err := js.StreamInfo(cfg.Stream)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := js.AddStream(streamCfg); err != nil {
			return fmt.Errorf("創建 Stream 失敗: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("查詢 Stream 失敗: %w", err)
	}

	if _, err := js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("更新 Stream 失敗: %w", err)
	}
	return nil
}

// Publish 同步發送事件，等待 JetStream 確認
//
// subject 即事件類型（links.added / links.edited / links.deleted），
// 每則訊息帶唯一 Msg-Id，讓 JetStream 在重複視窗內去重。
func (p *Publisher) Publish(ctx context.Context, event links.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}

	ack, err := p.js.Publish(string(event.Type), data,
		nats.Context(ctx),
		nats.MsgId(uuid.NewString()),
	)
	if err != nil {
		return fmt.Errorf("發送事件失敗: %w", err)
	}

	p.logger.DebugContext(ctx, "event published",
		"subject", event.Type, "stream", ack.Stream, "seq", ack.Sequence)
	return nil
}

// Close 排空並關閉連線
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
