package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/saravenpi/unimatch/internal/blob"
	"github.com/saravenpi/unimatch/internal/metrics"
	"github.com/saravenpi/unimatch/internal/models"
	"golang.org/x/sync/errgroup"
)

// Upload is one file picked for sending.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

func (u Upload) contentType() string {
	if u.ContentType != "" {
		return u.ContentType
	}
	return http.DetectContentType(u.Data)
}

func (s *Session) mode(op string, fn func(v *ViewState) error) error {
	err := s.dispatch(modeEvent{apply: fn})
	if err != nil && !errors.Is(err, ErrClosed) {
		s.log.Debug().Err(err).Str("op", op).Msg("transition rejected")
	}
	return err
}

// Reply starts replying to a message of the current timeline.
func (s *Session) Reply(messageID string) error {
	return s.mode("reply", func(v *ViewState) error {
		m, ok := s.byID[messageID]
		if !ok {
			return invalid("message %s is not in this conversation", messageID)
		}
		return v.BeginReply(m)
	})
}

func (s *Session) CancelReply() error {
	return s.mode("cancel_reply", (*ViewState).CancelReply)
}

// Select enters selection mode seeded with messageID.
func (s *Session) Select(messageID string) error {
	return s.mode("select", func(v *ViewState) error {
		m, ok := s.byID[messageID]
		if !ok {
			return invalid("message %s is not in this conversation", messageID)
		}
		if m.Deleted {
			return invalid("deleted messages cannot be selected")
		}
		return v.BeginSelect(messageID)
	})
}

func (s *Session) ToggleSelect(messageID string) error {
	return s.mode("toggle_select", func(v *ViewState) error {
		m, ok := s.byID[messageID]
		if !ok {
			return invalid("message %s is not in this conversation", messageID)
		}
		// A message deleted after it was selected can still be dropped from the selection.
		if sel, selecting := v.Mode.(Selecting); m.Deleted && !(selecting && sel.Has(messageID)) {
			return invalid("deleted messages cannot be selected")
		}
		return v.ToggleSelect(messageID)
	})
}

func (s *Session) CancelSelect() error {
	return s.mode("cancel_select", (*ViewState).CancelSelect)
}

func (s *Session) OpenMenu(messageID string) error {
	return s.mode("open_menu", func(v *ViewState) error {
		if _, ok := s.byID[messageID]; !ok {
			return invalid("message %s is not in this conversation", messageID)
		}
		return v.OpenMenu(messageID)
	})
}

func (s *Session) CloseMenu() error {
	return s.mode("close_menu", func(v *ViewState) error {
		v.CloseMenu()
		return nil
	})
}

// Escape closes the open menu or leaves the current mode. It reports whether anything changed.
func (s *Session) Escape() bool {
	var changed bool
	_ = s.mode("escape", func(v *ViewState) error {
		changed = v.Escape()
		return nil
	})
	return changed
}

func (s *Session) replyTarget() *models.ReplyRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.state.Mode.(Replying); ok {
		ref := r.Target
		return &ref
	}
	return nil
}

// SendText sends body as a text message, quoting the reply target if one is active. The
// reply target survives a failed send.
func (s *Session) SendText(ctx context.Context, body string) (err error) {
	defer func() { metrics.ObserveAction("send_text", err) }()

	body = strings.TrimSpace(body)
	if body == "" {
		return invalid("message is empty")
	}

	reply := s.replyTarget()
	local := models.Message{
		ID:       uuid.NewString(),
		SenderID: s.actor.ID,
		Payload:  models.TextPayload{Text: body},
		ReplyTo:  reply,
		Pending:  true,
	}
	if err := s.dispatch(sendStartedEvent{pending: local}); err != nil {
		return err
	}

	id, err := s.store.AddMessage(ctx, s.conversation.ID, models.NewMessage{
		ID:       local.ID,
		SenderID: s.actor.ID,
		Payload:  local.Payload,
		ReplyTo:  reply,
	})
	if err != nil {
		_ = s.dispatch(sendFinishedEvent{localID: local.ID, err: err})
		s.log.Error().Err(err).Msg("failed to send message")
		return classify("send message", err)
	}
	_ = s.dispatch(sendFinishedEvent{localID: local.ID, id: id, reply: reply})
	s.typist.Clear()
	return nil
}

// SendImages validates the whole batch before uploading anything, then uploads concurrently.
// Each upload becomes its own message; failed files are reported together and the others stand.
func (s *Session) SendImages(ctx context.Context, files []Upload) (err error) {
	defer func() { metrics.ObserveAction("send_images", err) }()

	if len(files) == 0 {
		return invalid("no images selected")
	}
	for _, f := range files {
		if err := s.validate(f, "image/", s.opts.MaxImageBytes); err != nil {
			return err
		}
	}

	reply := s.replyTarget()
	errs := make([]error, len(files))
	var g errgroup.Group
	g.SetLimit(s.opts.UploadConcurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			errs[i] = s.sendMedia(ctx, "image", f, reply)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.consumeReply(reply)
	return nil
}

// SendVoice uploads one recording and sends it.
func (s *Session) SendVoice(ctx context.Context, rec Upload) (err error) {
	defer func() { metrics.ObserveAction("send_voice", err) }()

	if err := s.validate(rec, "audio/", s.opts.MaxVoiceBytes); err != nil {
		return err
	}
	reply := s.replyTarget()
	if err := s.sendMedia(ctx, "voice", rec, reply); err != nil {
		return err
	}
	s.consumeReply(reply)
	return nil
}

func (s *Session) validate(f Upload, typePrefix string, limit int64) error {
	name := f.Name
	if name == "" {
		name = "file"
	}
	switch {
	case len(f.Data) == 0:
		return invalid("%s is empty", name)
	case int64(len(f.Data)) > limit:
		return invalid("%s is larger than %d MB", name, limit>>20)
	case !strings.HasPrefix(f.contentType(), typePrefix):
		return invalid("%s is not a supported %sfile", name, strings.TrimSuffix(typePrefix, "/")+" ")
	}
	return nil
}

// sendMedia uploads one blob and then writes its message. A failed write leaves the blob
// behind unless the cleanup delete succeeds.
func (s *Session) sendMedia(ctx context.Context, kind string, f Upload, reply *models.ReplyRef) error {
	key := blob.Key(s.conversation.ID, s.actor.ID, f.Name, s.opts.Now())
	url, err := s.blobs.Upload(ctx, key, f.contentType(), f.Data)
	if err != nil {
		s.log.Error().Err(err).Str("file", f.Name).Msg("failed to upload")
		return classify(fmt.Sprintf("upload %s", f.Name), err)
	}
	metrics.ObserveUpload(kind, len(f.Data))

	var payload models.Payload = models.ImagePayload{URL: url}
	if kind == "voice" {
		payload = models.VoicePayload{URL: url}
	}
	_, err = s.store.AddMessage(ctx, s.conversation.ID, models.NewMessage{
		ID:       uuid.NewString(),
		SenderID: s.actor.ID,
		Payload:  payload,
		ReplyTo:  reply,
	})
	if err != nil {
		s.log.Error().Err(err).Str("file", f.Name).Msg("failed to send media message")
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), url); derr != nil {
			s.log.Warn().Err(derr).Str("url", url).Msg("orphaned upload")
		}
		return classify(fmt.Sprintf("send %s", f.Name), err)
	}
	return nil
}

func (s *Session) consumeReply(reply *models.ReplyRef) {
	if reply == nil {
		return
	}
	_ = s.dispatch(modeEvent{apply: func(v *ViewState) error {
		if r, ok := v.Mode.(Replying); ok && r.Target.ID == reply.ID {
			v.Mode = Normal{}
		}
		return nil
	}})
}

// Typing records a keystroke in the composer.
func (s *Session) Typing() {
	s.typist.Pulse()
}

// StopTyping clears the typing flag without waiting for the idle timer.
func (s *Session) StopTyping() {
	s.typist.Clear()
}

// ToggleReaction sets the actor's reaction to emoji, or removes it when it already is emoji.
func (s *Session) ToggleReaction(ctx context.Context, messageID, emoji string) (err error) {
	defer func() { metrics.ObserveAction("react", err) }()

	if emoji == "" {
		return invalid("reaction is empty")
	}
	s.mu.Lock()
	m, ok := s.byID[messageID]
	s.mu.Unlock()
	switch {
	case !ok:
		return invalid("message %s is not in this conversation", messageID)
	case m.Deleted:
		return invalid("deleted messages cannot be reacted to")
	}

	err = s.store.UpdateReactions(ctx, s.conversation.ID, messageID, func(cur map[string]string) map[string]string {
		return models.ToggleReaction(cur, s.actor.ID, emoji)
	})
	if err != nil {
		s.log.Error().Err(err).Str("message", messageID).Msg("failed to react")
		return classify("react", err)
	}
	_ = s.CloseMenu()
	return nil
}

// DeleteMessage soft-deletes one of the actor's messages.
func (s *Session) DeleteMessage(ctx context.Context, messageID string) (err error) {
	defer func() { metrics.ObserveAction("delete", err) }()

	if err := s.store.SoftDelete(ctx, s.conversation.ID, messageID, s.actor.ID); err != nil {
		s.log.Error().Err(err).Str("message", messageID).Msg("failed to delete message")
		return classify("delete message", err)
	}
	_ = s.CloseMenu()
	return nil
}

// DeleteMessages soft-deletes every id concurrently. Ids that fail are listed in a *BatchError;
// the others stay deleted.
func (s *Session) DeleteMessages(ctx context.Context, ids []string) (err error) {
	defer func() { metrics.ObserveAction("delete_batch", err) }()

	var (
		mu     sync.Mutex
		failed []string
		errs   []error
	)
	var g errgroup.Group
	g.SetLimit(s.opts.UploadConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := s.store.SoftDelete(ctx, s.conversation.ID, id, s.actor.ID); err != nil {
				s.log.Warn().Err(err).Str("message", id).Msg("failed to delete message")
				mu.Lock()
				failed = append(failed, id)
				errs = append(errs, classify("delete "+id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return &BatchError{Failed: failed, Err: errors.Join(errs...)}
	}
	return nil
}

// DeleteSelected deletes the current selection and returns to Normal, even on partial failure.
func (s *Session) DeleteSelected(ctx context.Context) error {
	s.mu.Lock()
	sel, ok := s.state.Mode.(Selecting)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("delete selection: %w", ErrModeConflict)
	}

	err := s.DeleteMessages(ctx, sel.IDs)
	_ = s.dispatch(modeEvent{apply: func(v *ViewState) error {
		if _, ok := v.Mode.(Selecting); ok {
			v.Mode = Normal{}
		}
		return nil
	}})
	return err
}

// Unmatch deletes the conversation and closes the session.
func (s *Session) Unmatch(ctx context.Context) (err error) {
	defer func() { metrics.ObserveAction("unmatch", err) }()

	if err := s.store.DeleteConversation(ctx, s.conversation.ID); err != nil {
		s.log.Error().Err(err).Msg("failed to unmatch")
		return classify("unmatch", err)
	}
	s.log.Info().Msg("unmatched")
	s.Dispose()
	return nil
}

// Block adds the other participant to the actor's block list, deletes the conversation and
// closes the session.
func (s *Session) Block(ctx context.Context) (err error) {
	defer func() { metrics.ObserveAction("block", err) }()

	if err := s.store.AppendBlocked(ctx, s.actor.ID, s.otherID); err != nil {
		s.log.Error().Err(err).Msg("failed to block")
		return classify("block", err)
	}
	if err := s.store.DeleteConversation(ctx, s.conversation.ID); err != nil {
		s.log.Error().Err(err).Msg("failed to delete conversation after block")
		return classify("block", err)
	}
	s.log.Info().Str("blocked", s.otherID).Msg("blocked user")
	s.Dispose()
	return nil
}
