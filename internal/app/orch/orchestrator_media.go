package orch

import (
	"errors"

	"github.com/dkeye/lanrelay/internal/app"
	"github.com/dkeye/lanrelay/internal/domain"
	"github.com/dkeye/lanrelay/internal/obs"
	"github.com/dkeye/lanrelay/internal/protocol"
	"github.com/dkeye/lanrelay/internal/transfer"
	"github.com/rs/zerolog"
)

func (o *Orchestrator) setMediaPorts(username string, video, audio int, logger zerolog.Logger) {
	for _, p := range []struct {
		kind domain.MediaKind
		port int
	}{{domain.Video, video}, {domain.Audio, audio}} {
		if p.port == 0 {
			continue
		}
		if !o.Registry.SetMediaPort(username, p.kind, p.port) {
			logger.Debug().Str("username", username).Str("kind", p.kind.String()).Msg("media port for unknown user")
		}
	}
	o.publish(app.Event{Type: app.EventMediaPortsSent, Username: username})
}

func (o *Orchestrator) screenStart(username string) {
	o.Presenter.Start(username)
	o.publish(app.Event{Type: app.EventScreenStarted, Username: username})
}

func (o *Orchestrator) screenStop(username string) {
	o.Presenter.Stop(username)
	o.publish(app.Event{Type: app.EventScreenStopped, Username: username})
}

func (o *Orchestrator) fileMeta(sender string, m *protocol.Message, logger zerolog.Logger) {
	replaced, done := o.Transfers.Open(sender, m.Filename, m.Size)
	if replaced {
		logger.Info().Str("filename", m.Filename).Msg("transfer restarted")
	}
	obs.PendingTransfers.Set(float64(o.Transfers.Len()))
	o.publish(app.Event{Type: app.EventFileOffered, Username: sender, Filename: m.Filename, Size: m.Size})
	if done != nil {
		o.fileCompleted(done, logger)
	}
}

func (o *Orchestrator) fileData(m *protocol.Message, logger zerolog.Logger) {
	f, err := o.Transfers.Feed(m.Filename, m.Offset, m.Data)
	if err != nil {
		if errors.Is(err, transfer.ErrUnknownTransfer) {
			logger.Debug().Str("filename", m.Filename).Msg("chunk for unknown transfer")
		} else {
			logger.Warn().Err(err).Str("filename", m.Filename).Msg("bad chunk")
		}
		return
	}
	if f != nil {
		o.fileCompleted(f, logger)
	}
}

// dropUploads forgets the unfinished transfers of a user who left.
func (o *Orchestrator) dropUploads(username string, logger zerolog.Logger) {
	if n := o.Transfers.CancelSender(username); n > 0 {
		obs.PendingTransfers.Set(float64(o.Transfers.Len()))
		logger.Info().Int("transfers", n).Msg("dropped unfinished uploads")
	}
}

func (o *Orchestrator) fileCompleted(f *transfer.File, logger zerolog.Logger) {
	obs.FilesCompleted.Inc()
	obs.PendingTransfers.Set(float64(o.Transfers.Len()))
	logger.Info().Str("filename", f.Filename).Str("sender", f.Sender).Int("bytes", len(f.Data)).Msg("transfer complete")
	o.publish(app.Event{Type: app.EventFileCompleted, Username: f.Sender, Filename: f.Filename, Size: int64(len(f.Data))})
	if o.Sink == nil {
		return
	}
	if _, err := o.Sink.Save(f); err != nil {
		obs.ErrorsTotal.WithLabelValues("sink").Inc()
		logger.Error().Err(err).Str("filename", f.Filename).Msg("save failed")
	}
}
