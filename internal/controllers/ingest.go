package controllers

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/amaumene/multimediabot/internal/models"
	"github.com/amaumene/multimediabot/internal/services/metadata"
	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/amaumene/multimediabot/internal/utils"
	"github.com/sirupsen/logrus"
)

const lookupTimeout = 15 * time.Second

// commandKinds maps ingestion commands to the flow they drive
var commandKinds = map[string]Kind{
	"add":   KindFlatAdd,
	"a":     KindMultiSeasonAdd,
	"ser":   KindSeriesUpload,
	"upser": KindSeriesUpload,
	"load":  KindBulkLoad,
}

// kindCommands is the command shown to admins for each flow
var kindCommands = map[Kind]string{
	KindFlatAdd:        "/add",
	KindMultiSeasonAdd: "/a",
	KindSeriesUpload:   "/ser",
	KindBulkLoad:       "/load",
}

// KindForCommand returns the flow driven by an ingestion command
func KindForCommand(command string) (Kind, bool) {
	kind, ok := commandKinds[command]
	return kind, ok
}

// IngestController runs the per-admin ingestion state machine. Calls for
// the same session key must not run concurrently.
type IngestController struct {
	sessions  *SessionStore
	mirror    Mirror
	lookup    Lookup
	finalizer Finalizer
	noise     *utils.NoiseFilter
	retry     *Retrier
	logger    *logrus.Logger

	// uploads outlive the message that triggered them and /cancel
	uploads sync.WaitGroup
	now     func() time.Time
}

// NewIngestController creates a new ingestion controller
func NewIngestController(sessions *SessionStore, mirror Mirror, lookup Lookup, finalizer Finalizer, noise *utils.NoiseFilter, retry *Retrier, logger *logrus.Logger) *IngestController {
	return &IngestController{
		sessions:  sessions,
		mirror:    mirror,
		lookup:    lookup,
		finalizer: finalizer,
		noise:     noise,
		retry:     retry,
		logger:    logger,
		now:       time.Now,
	}
}

// Sessions exposes the session store for status reporting
func (c *IngestController) Sessions() *SessionStore {
	return c.sessions
}

// Wait blocks until every dispatched upload has finished
func (c *IngestController) Wait() {
	c.uploads.Wait()
}

// KeyFor returns the session slot a message belongs to: the shared group
// slot in group chats, the sender's own slot elsewhere
func KeyFor(msg *telegram.Message) SessionKey {
	if msg.Chat.IsGroup() {
		return GroupKey(msg.Chat.ID)
	}
	if msg.From != nil {
		return UserKey(msg.From.ID)
	}
	return UserKey(msg.Chat.ID)
}

// HandleCommand starts a flow when none is active, or advances the active
// one. The same command means "start" or "next step" depending on phase.
func (c *IngestController) HandleCommand(ctx context.Context, msg *telegram.Message, command, args string) error {
	kind, ok := KindForCommand(command)
	if !ok {
		return fmt.Errorf("unknown ingestion command %q", command)
	}
	if msg.Chat.IsGroup() && kind != KindBulkLoad {
		c.reply(ctx, msg.Chat.ID, "ℹ️ Este comando solo está disponible en privado. En grupos usa /load.")
		return nil
	}

	key := KeyFor(msg)
	sess := c.sessions.Get(key)
	if sess == nil {
		if command == "upser" {
			c.reply(ctx, msg.Chat.ID, "⚠️ No hay ninguna subida de serie en curso. Empieza con /ser &lt;título&gt;.")
			return nil
		}
		return c.beginFlow(ctx, key, msg, kind, args)
	}

	if sess.Kind != kind {
		c.reply(ctx, msg.Chat.ID, fmt.Sprintf("⚠️ Ya tienes una operación %s en curso (%s). Termínala o usa /cancel.",
			kindCommands[sess.Kind], phaseDescription(sess.Phase())))
		return nil
	}
	return c.advanceOrFinalizeFlow(ctx, sess, msg)
}

// beginFlow creates a session in the initial phase of its kind
func (c *IngestController) beginFlow(ctx context.Context, key SessionKey, msg *telegram.Message, kind Kind, args string) error {
	title := utils.NormalizeTitle(args)
	sess := &Session{
		Key:       key,
		Kind:      kind,
		ChatID:    msg.Chat.ID,
		StartedAt: c.now(),
	}
	if msg.From != nil {
		sess.AdminID = msg.From.ID
	}

	var prompt string
	switch kind {
	case KindFlatAdd:
		sess.Bundle = NewBundle(title, models.MediaKindFlatSeries)
		if title == "" {
			sess.State = AwaitingName{}
			prompt = "📝 Envía el nombre de la serie o película."
		} else {
			c.attachMetadata(ctx, sess.Bundle)
			sess.State = ReceivingFiles{Bucket: sess.Bundle.OpenSeason("")}
			prompt = fmt.Sprintf("📥 <b>%s</b>\n\nEnvía los archivos en orden. Cuando termines, vuelve a usar /add.", html.EscapeString(title))
		}

	case KindMultiSeasonAdd:
		if title == "" {
			c.reply(ctx, msg.Chat.ID, "ℹ️ Uso: /a &lt;título de la serie&gt;")
			return nil
		}
		sess.Bundle = NewBundle(title, models.MediaKindMultiSeason)
		c.attachMetadata(ctx, sess.Bundle)
		sess.State = AwaitingName{SeasonLabel: true}
		prompt = fmt.Sprintf("📚 <b>%s</b>\n\nEnvía el nombre de la primera temporada (por ejemplo «Temporada 1»).", html.EscapeString(title))

	case KindSeriesUpload:
		if title == "" {
			c.reply(ctx, msg.Chat.ID, "ℹ️ Uso: /ser &lt;título de la serie&gt;")
			return nil
		}
		sess.Bundle = NewBundle(title, models.MediaKindMultiSeason)
		c.attachMetadata(ctx, sess.Bundle)
		sess.State = ReceivingFiles{Bucket: -1}
		prompt = fmt.Sprintf("📺 <b>%s</b>\n\nEnvía los episodios. Las etiquetas 1x05 o S01E05 se respetan. Cuando termines usa /upser.", html.EscapeString(title))

	case KindBulkLoad:
		sess.State = AwaitingName{}
		prompt = "📦 Modo carga activado.\n\nEnvía un nombre y después sus archivos. Un nombre nuevo cierra el anterior. Usa /load otra vez para terminar."
	}

	if err := c.sessions.Create(sess); err != nil {
		return fmt.Errorf("failed to start %s: %w", kind, err)
	}

	c.logger.WithFields(logrus.Fields{
		"session": key.String(),
		"kind":    kind,
		"phase":   sess.Phase(),
		"title":   title,
	}).Info("Ingestion session started")

	c.reply(ctx, msg.Chat.ID, prompt)
	return nil
}

// advanceOrFinalizeFlow handles a repeated command while a session is active
func (c *IngestController) advanceOrFinalizeFlow(ctx context.Context, sess *Session, msg *telegram.Message) error {
	switch sess.State.(type) {
	case AwaitingName:
		if sess.Kind == KindBulkLoad {
			c.finishBulk(ctx, sess)
			return nil
		}
		c.reply(ctx, msg.Chat.ID, "📝 Todavía espero un nombre.")
		return nil

	case ReceivingFiles:
		if sess.Kind == KindBulkLoad {
			c.finishBulk(ctx, sess)
			return nil
		}
		if sess.Bundle.TotalFiles() == 0 {
			c.reply(ctx, msg.Chat.ID, "⚠️ Aún no has enviado ningún archivo.")
			return nil
		}
		if err := sess.Bundle.Validate(); err != nil {
			c.reply(ctx, msg.Chat.ID, "⚠️ "+validationMessage(err))
			return nil
		}
		sess.State = AwaitingCover{}
		c.sessions.Touch(sess)
		c.logSession(sess, "Waiting for cover")
		c.reply(ctx, msg.Chat.ID, fmt.Sprintf("🖼 %d archivos recibidos. Envía ahora la portada con la descripción como pie de foto.",
			sess.Bundle.TotalFiles()))
		return nil

	case AwaitingCover:
		c.reply(ctx, msg.Chat.ID, "🖼 Estoy esperando la portada (una foto).")
		return nil
	}
	return nil
}

// HandleText routes a plain text message to the active session
func (c *IngestController) HandleText(ctx context.Context, msg *telegram.Message) error {
	sess := c.sessions.Get(KeyFor(msg))
	if sess == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)

	switch st := sess.State.(type) {
	case AwaitingName:
		name := utils.NormalizeTitle(text)
		if name == "" {
			c.resetSession(ctx, sess, "El nombre está vacío.")
			return nil
		}

		if st.SeasonLabel {
			idx := sess.Bundle.OpenSeason(name)
			sess.State = ReceivingFiles{Bucket: idx}
			c.sessions.Touch(sess)
			c.logSession(sess, "Season opened")
			c.reply(ctx, msg.Chat.ID, fmt.Sprintf("📂 <b>%s</b>\n\nEnvía los episodios. Escribe otra temporada para cambiar, o /a para terminar.", html.EscapeString(name)))
			return nil
		}

		if sess.Kind == KindBulkLoad {
			sess.Bundle = NewBundle(name, models.MediaKindFlatSeries)
			sess.State = ReceivingFiles{Bucket: -1}
		} else {
			sess.Bundle.Title = name
			sess.State = ReceivingFiles{Bucket: sess.Bundle.OpenSeason("")}
		}
		c.attachMetadata(ctx, sess.Bundle)
		c.sessions.Touch(sess)
		c.logSession(sess, "Name received")
		c.reply(ctx, msg.Chat.ID, c.namePrompt(sess))
		return nil

	case ReceivingFiles:
		switch sess.Kind {
		case KindBulkLoad:
			name := utils.NormalizeTitle(text)
			if name == "" {
				return nil
			}
			c.finalizeBulkItem(ctx, sess)
			sess.Bundle = NewBundle(name, models.MediaKindFlatSeries)
			sess.State = ReceivingFiles{Bucket: -1}
			c.attachMetadata(ctx, sess.Bundle)
			c.sessions.Touch(sess)
			c.logSession(sess, "Next bulk item")
			c.reply(ctx, msg.Chat.ID, c.namePrompt(sess))

		case KindMultiSeasonAdd:
			if _, ok := utils.ParseSeasonNumber(text); !ok {
				return nil
			}
			label := utils.NormalizeTitle(text)
			idx := sess.Bundle.OpenSeason(label)
			sess.State = ReceivingFiles{Bucket: idx}
			c.sessions.Touch(sess)
			c.logSession(sess, "Season opened")
			c.reply(ctx, msg.Chat.ID, fmt.Sprintf("📂 <b>%s</b>\n\nEnvía los episodios.", html.EscapeString(sess.Bundle.Seasons[idx].Key)))
		}
	}
	return nil
}

// HandleFile appends a video or document to the current season bucket
func (c *IngestController) HandleFile(ctx context.Context, msg *telegram.Message) error {
	file := msg.MediaFile()
	if file == nil {
		return nil
	}
	sess := c.sessions.Get(KeyFor(msg))
	if sess == nil {
		return nil
	}

	st, ok := sess.State.(ReceivingFiles)
	if !ok {
		c.reply(ctx, msg.Chat.ID, fmt.Sprintf("⚠️ Archivo ignorado: %s.", phaseDescription(sess.Phase())))
		return nil
	}

	kind := FileDocument
	if msg.Video != nil {
		kind = FileVideo
	}
	ref := FileRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID, Caption: msg.Caption, Kind: kind}

	source := msg.Caption
	if strings.TrimSpace(source) == "" {
		source = file.FileName
	}
	bundle := sess.Bundle
	idx := st.Bucket
	if season, episode, found := utils.ParseEpisodeTag(c.noise.CleanCaption(source)); found {
		ref.Explicit = episode
		if season > 0 && (sess.Kind == KindSeriesUpload || sess.Kind == KindBulkLoad) {
			idx = bundle.SeasonFor(season)
			if sess.Kind == KindBulkLoad {
				bundle.MediaKind = models.MediaKindMultiSeason
			}
		}
	}
	if idx < 0 {
		idx = bundle.SeasonFor(1)
	}

	seasonNumber, episodeNumber := bundle.Append(idx, ref)
	sess.State = ReceivingFiles{Bucket: idx}
	stored := &bundle.Seasons[idx].Files[len(bundle.Seasons[idx].Files)-1]

	label := bundle.Label(seasonNumber, episodeNumber)
	if label != strings.TrimSpace(msg.Caption) {
		newID, err := c.relabel(ctx, msg.Chat.ID, msg.MessageID, label)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"session":    sess.Key.String(),
				"message_id": msg.MessageID,
			}).WithError(err).Warn("Failed to relabel file, keeping original message")
		} else {
			stored.MessageID = newID
		}
	}
	stored.Caption = label
	c.sessions.Touch(sess)

	if ref.Explicit > 0 && ref.Explicit != episodeNumber {
		c.reply(ctx, msg.Chat.ID, fmt.Sprintf("⚠️ El capítulo %d ya estaba asignado. Este archivo se guarda como capítulo %d.",
			ref.Explicit, episodeNumber))
	}

	c.logger.WithFields(logrus.Fields{
		"session": sess.Key.String(),
		"season":  seasonNumber,
		"episode": episodeNumber,
		"files":   bundle.TotalFiles(),
	}).Debug("File received")
	return nil
}

// HandlePhoto records the cover and finalizes. Multi-season flows also
// take a photo sent while receiving files as the cover.
func (c *IngestController) HandlePhoto(ctx context.Context, msg *telegram.Message) error {
	photo := msg.LargestPhoto()
	if photo == nil {
		return nil
	}
	sess := c.sessions.Get(KeyFor(msg))
	if sess == nil {
		return nil
	}

	switch sess.State.(type) {
	case AwaitingCover:
	case ReceivingFiles:
		if sess.Kind != KindMultiSeasonAdd {
			c.reply(ctx, msg.Chat.ID, fmt.Sprintf("⚠️ Foto ignorada. Usa %s para pasar a la portada.", kindCommands[sess.Kind]))
			return nil
		}
	default:
		c.reply(ctx, msg.Chat.ID, fmt.Sprintf("⚠️ Foto ignorada: %s.", phaseDescription(sess.Phase())))
		return nil
	}

	// the admin types plain text; covers are posted in HTML mode
	caption := html.EscapeString(strings.TrimSpace(msg.Caption))
	if caption == "" {
		decideMediaKind(sess.Kind, sess.Bundle)
		caption = metadata.Describe(sess.Bundle.Title, sess.Bundle.MediaKind != models.MediaKindMovie, sess.Bundle.Metadata)
	}
	sess.Bundle.Cover = &Cover{Photo: photo.FileID, Caption: caption}
	return c.finalizeSession(ctx, sess)
}

// Cancel discards the active session. Uploads already dispatched keep running.
func (c *IngestController) Cancel(ctx context.Context, msg *telegram.Message) error {
	sess := c.sessions.Get(KeyFor(msg))
	if sess == nil {
		c.reply(ctx, msg.Chat.ID, "ℹ️ No hay ninguna operación en curso.")
		return nil
	}

	files := sess.fileCount()
	c.sessions.Delete(sess, "cancelled")
	c.logSession(sess, "Ingestion session cancelled")
	c.reply(ctx, msg.Chat.ID, fmt.Sprintf("❌ Operación %s cancelada. Se descartaron %d archivos.", kindCommands[sess.Kind], files))
	return nil
}

// finalizeSession validates the bundle, clears the session and dispatches
// the upload. A bundle that fails validation goes back to receiving files.
func (c *IngestController) finalizeSession(ctx context.Context, sess *Session) error {
	bundle := sess.Bundle
	decideMediaKind(sess.Kind, bundle)

	if err := bundle.Validate(); err != nil {
		bundle.Cover = nil
		sess.State = ReceivingFiles{Bucket: len(bundle.Seasons) - 1}
		c.sessions.Touch(sess)
		c.reply(ctx, sess.ChatID, "⚠️ No se puede finalizar: "+validationMessage(err))
		return nil
	}

	sess.State = Finalizing{}
	c.sessions.Delete(sess, "finalized")
	c.logSession(sess, "Dispatching upload")

	c.dispatch(FinalizeRequest{
		Bundle:  bundle,
		Kind:    sess.Kind,
		AdminID: sess.AdminID,
		ChatID:  sess.ChatID,
	})
	return nil
}

// finalizeBulkItem dispatches the pending bulk item, if it has files
func (c *IngestController) finalizeBulkItem(ctx context.Context, sess *Session) {
	bundle := sess.Bundle
	sess.Bundle = nil
	if bundle == nil || bundle.TotalFiles() == 0 {
		return
	}

	decideMediaKind(sess.Kind, bundle)
	bundle.Cover = &Cover{
		Caption: metadata.Describe(bundle.Title, bundle.MediaKind != models.MediaKindMovie, bundle.Metadata),
	}
	if bundle.Metadata != nil {
		bundle.Cover.Photo = bundle.Metadata.PosterURL
	}

	if err := bundle.Validate(); err != nil {
		c.reply(ctx, sess.ChatID, fmt.Sprintf("⚠️ <b>%s</b> descartado: %s", html.EscapeString(bundle.Title), validationMessage(err)))
		return
	}

	sess.Items++
	c.dispatch(FinalizeRequest{
		Bundle:  bundle,
		Kind:    sess.Kind,
		AdminID: sess.AdminID,
		ChatID:  sess.ChatID,
	})
}

// finishBulk closes bulk mode after dispatching the pending item
func (c *IngestController) finishBulk(ctx context.Context, sess *Session) {
	c.finalizeBulkItem(ctx, sess)
	c.sessions.Delete(sess, "finalized")
	c.logSession(sess, "Bulk load finished")
	c.reply(ctx, sess.ChatID, fmt.Sprintf("📦 Modo carga desactivado. %d elementos enviados a subir.", sess.Items))
}

// dispatch runs an upload in the background, detached from the caller's
// context so neither /cancel nor the end of the update cancels it
func (c *IngestController) dispatch(req FinalizeRequest) {
	c.uploads.Add(1)
	go func() {
		defer c.uploads.Done()
		log := c.logger.WithFields(logrus.Fields{
			"title":    req.Bundle.Title,
			"kind":     req.Kind,
			"admin_id": req.AdminID,
		})
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("Upload panicked")
			}
		}()

		ctx := context.Background()
		summary, err := c.finalizer.Finalize(ctx, req)
		if err != nil {
			log.WithError(err).Error("Upload failed")
			if isValidationError(err) {
				c.reply(ctx, req.ChatID, fmt.Sprintf("⚠️ No se pudo subir <b>%s</b>: %s", html.EscapeString(req.Bundle.Title), validationMessage(err)))
			}
			return
		}
		log.WithFields(logrus.Fields{
			"series_id": summary.SeriesID,
			"uploaded":  summary.UploadedEpisodes,
			"failed":    summary.FailedEpisodes,
		}).Info("Upload completed")
	}()
}

// relabel replaces a file message with a copy carrying the canonical
// caption and returns the new message id
func (c *IngestController) relabel(ctx context.Context, chatID int64, messageID int, label string) (int, error) {
	var newID int
	err := c.retry.Do(ctx, "relabel_file", func(ctx context.Context) error {
		id, err := c.mirror.CopyMessage(ctx, chatID, chatID, messageID, telegram.CopyOptions{
			Caption:             &label,
			DisableNotification: true,
		})
		if err != nil {
			return err
		}
		newID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := c.mirror.DeleteMessage(ctx, chatID, messageID); err != nil {
		c.logger.WithField("message_id", messageID).WithError(err).Debug("Failed to delete original file message")
	}
	return newID, nil
}

// attachMetadata looks the bundle title up. Failures are logged and never
// block ingestion.
func (c *IngestController) attachMetadata(ctx context.Context, bundle *ContentBundle) {
	if c.lookup == nil || bundle.Title == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	md, err := c.lookup.Search(ctx, bundle.Title)
	if err != nil {
		c.logger.WithField("title", bundle.Title).WithError(err).Warn("Metadata lookup failed")
		return
	}
	bundle.Metadata = md
}

func (c *IngestController) namePrompt(sess *Session) string {
	b := sess.Bundle
	var found string
	if b.Metadata != nil {
		found = fmt.Sprintf("\n🔎 Encontrado: %s", html.EscapeString(b.Metadata.Title))
		if b.Metadata.Year > 0 {
			found += fmt.Sprintf(" (%d)", b.Metadata.Year)
		}
	}
	return fmt.Sprintf("📥 <b>%s</b>%s\n\nEnvía los archivos. Cuando termines usa %s.", html.EscapeString(b.Title), found, kindCommands[sess.Kind])
}

func (c *IngestController) resetSession(ctx context.Context, sess *Session, reason string) {
	c.sessions.Delete(sess, "reset")
	c.logSession(sess, "Ingestion session reset")
	c.reply(ctx, sess.ChatID, fmt.Sprintf("⚠️ %s Operación reiniciada, empieza de nuevo con %s.", reason, kindCommands[sess.Kind]))
}

func (c *IngestController) reply(ctx context.Context, chatID int64, text string) {
	if _, err := c.mirror.SendText(ctx, chatID, text, nil); err != nil {
		c.logger.WithField("chat_id", chatID).WithError(err).Warn("Failed to send reply")
	}
}

func (c *IngestController) logSession(sess *Session, msg string) {
	c.logger.WithFields(logrus.Fields{
		"session": sess.Key.String(),
		"kind":    sess.Kind,
		"phase":   sess.Phase(),
		"files":   sess.fileCount(),
	}).Info(msg)
}

// decideMediaKind settles flat bundles into a movie or a flat series once
// all files are known
func decideMediaKind(kind Kind, b *ContentBundle) {
	switch kind {
	case KindMultiSeasonAdd, KindSeriesUpload:
		b.MediaKind = models.MediaKindMultiSeason
		return
	}
	if b.MediaKind == models.MediaKindMultiSeason || len(b.Seasons) > 1 {
		b.MediaKind = models.MediaKindMultiSeason
		return
	}
	if b.TotalFiles() == 1 && b.Metadata != nil && !b.Metadata.IsSeries {
		b.MediaKind = models.MediaKindMovie
		return
	}
	b.MediaKind = models.MediaKindFlatSeries
}

func isValidationError(err error) bool {
	var empty *EmptySeasonError
	return errors.As(err, &empty) ||
		errors.Is(err, ErrMissingBundle) ||
		errors.Is(err, ErrMissingTitle) ||
		errors.Is(err, ErrNoFiles) ||
		errors.Is(err, ErrMissingCover) ||
		errors.Is(err, ErrTooManySeason)
}

func validationMessage(err error) string {
	var empty *EmptySeasonError
	switch {
	case errors.As(err, &empty):
		return "temporadas sin episodios: " + html.EscapeString(strings.Join(empty.Seasons, ", "))
	case errors.Is(err, ErrNoFiles):
		return "no se recibió ningún archivo"
	case errors.Is(err, ErrMissingCover):
		return "falta la portada"
	case errors.Is(err, ErrMissingTitle):
		return "falta el título"
	case errors.Is(err, ErrMissingBundle):
		return "no hay contenido pendiente"
	default:
		return excerpt(err)
	}
}

func phaseDescription(phase Phase) string {
	switch phase {
	case PhaseAwaitingName:
		return "esperando un nombre"
	case PhaseReceivingFiles:
		return "recibiendo archivos"
	case PhaseAwaitingCover:
		return "esperando la portada"
	case PhaseFinalizing:
		return "subiendo"
	default:
		return "sin operación"
	}
}
