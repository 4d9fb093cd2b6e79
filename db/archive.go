package db

import (
	"context"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/onnwee/chatmon/chat"
	"github.com/onnwee/chatmon/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const insertMessage = `INSERT INTO chat_messages
	(channel, room_id, user_id, username, message, color, badges, emotes, received_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

// Archive writes relayed chat messages to Postgres from a background worker.
// Archive never blocks the relay: when the queue is full the row is dropped.
type Archive struct {
	db           Execer
	queue        chan chat.Record
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewArchive creates an archive with a queue of size rows.
func NewArchive(db Execer, size int, logger *slog.Logger) *Archive {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		db:           db,
		queue:        make(chan chat.Record, size),
		writeTimeout: 5 * time.Second,
		logger:       logger.With(slog.String("component", "archive")),
	}
}

// Archive queues r for insertion.
func (a *Archive) Archive(r chat.Record) {
	select {
	case a.queue <- r:
		telemetry.SetArchiveQueueDepth(len(a.queue))
	default:
		telemetry.ArchiveWrite("dropped")
	}
}

// Run inserts queued rows until ctx ends, then flushes what is left.
func (a *Archive) Run(ctx context.Context) {
	for {
		select {
		case r := <-a.queue:
			a.write(context.Background(), r)
		case <-ctx.Done():
			a.flush()
			return
		}
	}
}

func (a *Archive) flush() {
	for {
		select {
		case r := <-a.queue:
			a.write(context.Background(), r)
		default:
			return
		}
	}
}

func (a *Archive) write(parent context.Context, r chat.Record) {
	ctx, cancel := context.WithTimeout(parent, a.writeTimeout)
	defer cancel()
	defer telemetry.SetArchiveQueueDepth(len(a.queue))

	badges, err := json.Marshal(r.Message.Badges)
	if err != nil {
		telemetry.ArchiveWrite("error")
		a.logger.Warn("failed to encode badges", slog.Any("err", err))
		return
	}
	emotes, err := json.Marshal(r.Message.Emotes)
	if err != nil {
		telemetry.ArchiveWrite("error")
		a.logger.Warn("failed to encode emotes", slog.Any("err", err))
		return
	}

	telemetry.TimeFunc(telemetry.ArchiveWriteDuration, func() {
		_, err = a.db.Exec(ctx, insertMessage,
			r.Channel, r.RoomID, r.Message.UserID, r.Message.User, r.Message.Content,
			r.Message.Color, string(badges), string(emotes), r.ReceivedAt)
	})
	if err != nil {
		telemetry.ArchiveWrite("error")
		a.logger.Warn("failed to archive message",
			slog.String("channel", r.Channel),
			slog.Any("err", err))
		return
	}
	telemetry.ArchiveWrite("ok")
}
