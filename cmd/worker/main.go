package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/suPer8Hu/relay-bot/internal/broadcast"
	"github.com/suPer8Hu/relay-bot/internal/chat"
	"github.com/suPer8Hu/relay-bot/internal/config"
	"github.com/suPer8Hu/relay-bot/internal/db"
	"github.com/suPer8Hu/relay-bot/internal/logging"
	"github.com/suPer8Hu/relay-bot/internal/store/rabbitmq"
	"github.com/suPer8Hu/relay-bot/internal/transport/webhook"
)

const (
	maxRetries   = 3
	retryDelay   = 10 * time.Second
	retryHeader  = "x-retry-count"
	sendInterval = 50 * time.Millisecond
)

type textOnly struct{ m *webhook.Messenger }

func (t textOnly) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	return t.m.SendText(ctx, chatID, text, nil)
}

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}

	fanout := broadcast.NewFanout(
		chat.NewRepo(gdb),
		textOnly{m: webhook.NewMessenger(cfg.OutboundURL, cfg.WebhookSecret)},
		sendInterval,
		logger.Named("broadcast"),
	)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		logger.Fatal("declare topology", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started", zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", concurrency))

	// amqp channels are not safe for concurrent publishing
	var pubMu sync.Mutex
	retry := func(d amqp.Delivery, attempt int) error {
		pubMu.Lock()
		defer pubMu.Unlock()
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ch.PublishWithContext(pctx, "", cfg.RabbitQueue+".retry", false, false, amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    d.MessageId,
			Body:         d.Body,
			Expiration:   formatMillis(retryDelay),
			Headers:      amqp.Table{retryHeader: int32(attempt)},
			Timestamp:    time.Now(),
		})
	}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := logger.With(zap.Int("worker", workerID))
			for d := range jobs {
				var m rabbitmq.BroadcastMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					wlog.Warn("bad message", zap.String("message_id", d.MessageId), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				res, err := fanout.Deliver(ctx, m.JobID, m.SenderID, m.Body)
				attempt := retryCount(d) + 1
				switch broadcast.Dispose(err, attempt, maxRetries) {
				case broadcast.Ack:
					if err := d.Ack(false); err != nil {
						wlog.Warn("ack failed", zap.String("job_id", m.JobID), zap.Error(err))
					}
					continue
				case broadcast.Requeue:
					wlog.Warn("broadcast interrupted by shutdown, requeueing",
						zap.String("job_id", m.JobID), zap.Int("delivered", res.Delivered), zap.Error(err))
					_ = d.Nack(false, true)
					continue
				case broadcast.Retry:
					perr := retry(d, attempt)
					if perr == nil {
						wlog.Warn("broadcast scheduled for retry", zap.String("job_id", m.JobID), zap.Int("attempt", attempt), zap.Error(err))
						_ = d.Ack(false)
						continue
					}
					wlog.Error("retry publish failed", zap.String("job_id", m.JobID), zap.Error(perr))
				}
				wlog.Error("broadcast failed", zap.String("job_id", m.JobID), zap.Duration("took", res.Took), zap.Error(err))
				_ = d.Nack(false, false)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

func retryCount(d amqp.Delivery) int {
	switch v := d.Headers[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func formatMillis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
