package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/amaumene/multimediabot/internal/config"
	"github.com/amaumene/multimediabot/internal/controllers"
	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/amaumene/multimediabot/internal/utils"
	"github.com/sirupsen/logrus"
)

const errorExcerptLen = 120

const welcomeText = "👋 ¡Hola! Abre cualquier portada del canal y pulsa «▶️ Ver contenido» para recibir los episodios aquí."

const adminHelpText = `<b>Comandos de subida</b>
/add [nombre]: serie o película sin temporadas. Envía los archivos, /add otra vez y la portada.
/a &lt;título&gt;: serie por temporadas. Escribe el nombre de cada temporada antes de sus episodios y termina con la portada.
/ser &lt;título&gt;: serie con etiquetas 1x05 o S01E05. Termina con /upser y la portada.
/load: carga por lotes. Nombre, archivos, nombre, archivos... /load para terminar.
/cancel: descarta la operación en curso.`

// Replier sends plain replies
type Replier interface {
	SendText(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (int, error)
}

// Router turns updates into controller calls
type Router struct {
	cfg     *config.Config
	ingest  *controllers.IngestController
	catalog *controllers.CatalogController
	replier Replier
	logger  *logrus.Logger
}

// NewRouter creates a new update router
func NewRouter(cfg *config.Config, ingest *controllers.IngestController, catalog *controllers.CatalogController, replier Replier, logger *logrus.Logger) *Router {
	return &Router{
		cfg:     cfg,
		ingest:  ingest,
		catalog: catalog,
		replier: replier,
		logger:  logger,
	}
}

// HandleUpdate routes one update. Errors and panics end here: they are
// logged and the user gets a short apology.
func (r *Router) HandleUpdate(ctx context.Context, update telegram.Update) {
	var chatID, userID int64
	switch {
	case update.Message != nil:
		chatID = update.Message.Chat.ID
		if update.Message.From != nil {
			userID = update.Message.From.ID
		}
	case update.CallbackQuery != nil:
		userID = update.CallbackQuery.From.ID
		if update.CallbackQuery.Message != nil {
			chatID = update.CallbackQuery.Message.Chat.ID
		}
	}

	log := r.logger.WithFields(logrus.Fields{
		"update_id": update.UpdateID,
		"chat_id":   chatID,
		"user_id":   userID,
	})

	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("Panic while handling update")
			r.apologize(ctx, chatID, userID, fmt.Errorf("panic: %v", rec))
		}
	}()

	var err error
	switch {
	case update.Message != nil:
		err = r.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		err = r.catalog.HandleCallback(ctx, update.CallbackQuery)
		if errors.Is(err, controllers.ErrBadCallback) {
			log.WithError(err).Warn("Ignoring malformed callback")
			return
		}
	default:
		return
	}

	if err != nil {
		log.WithError(err).Error("Failed to handle update")
		r.apologize(ctx, chatID, userID, err)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *telegram.Message) error {
	if msg.From == nil || msg.From.IsBot {
		return nil
	}

	if msg.IsCommand() {
		command, args, ok := ParseCommand(msg.Text, r.cfg.BotUsername)
		if !ok {
			return nil
		}
		return r.handleCommand(ctx, msg, command, args)
	}

	if !r.cfg.IsAdmin(msg.From.ID) {
		return nil
	}
	switch {
	case len(msg.Photo) > 0:
		return r.ingest.HandlePhoto(ctx, msg)
	case msg.MediaFile() != nil:
		return r.ingest.HandleFile(ctx, msg)
	case msg.Text != "":
		return r.ingest.HandleText(ctx, msg)
	}
	return nil
}

func (r *Router) handleCommand(ctx context.Context, msg *telegram.Message, command, args string) error {
	admin := r.cfg.IsAdmin(msg.From.ID)

	switch command {
	case "start":
		if args == "" {
			r.reply(ctx, msg.Chat.ID, welcomeText)
			return nil
		}
		if err := r.catalog.HandleStart(ctx, msg.Chat.ID, args); err != nil {
			r.logger.WithFields(logrus.Fields{
				"chat_id": msg.Chat.ID,
				"payload": args,
			}).WithError(err).Warn("Failed to resolve deep link")
			r.reply(ctx, msg.Chat.ID, "❌ Ese contenido ya no está disponible.")
		}
		return nil

	case "help":
		if admin {
			r.reply(ctx, msg.Chat.ID, adminHelpText)
		} else {
			r.reply(ctx, msg.Chat.ID, welcomeText)
		}
		return nil

	case "cancel":
		if !admin {
			return nil
		}
		return r.ingest.Cancel(ctx, msg)
	}

	if _, ok := controllers.KindForCommand(command); ok {
		if !admin {
			r.logger.WithFields(logrus.Fields{
				"user_id": msg.From.ID,
				"command": command,
			}).Warn("Rejected ingestion command from non-admin")
			if !msg.Chat.IsGroup() {
				r.reply(ctx, msg.Chat.ID, "⛔ Solo los administradores pueden subir contenido.")
			}
			return nil
		}
		return r.ingest.HandleCommand(ctx, msg, command, args)
	}
	return nil
}

func (r *Router) apologize(ctx context.Context, chatID, userID int64, err error) {
	if chatID == 0 {
		return
	}
	text := "⚠️ Algo salió mal al procesar tu mensaje. Inténtalo de nuevo."
	if r.cfg.IsAdmin(userID) {
		text += fmt.Sprintf("\n<code>%s</code>", html.EscapeString(utils.Truncate(err.Error(), errorExcerptLen)))
	}
	r.reply(ctx, chatID, text)
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.replier.SendText(ctx, chatID, text, nil); err != nil {
		r.logger.WithField("chat_id", chatID).WithError(err).Warn("Failed to send reply")
	}
}

// ParseCommand splits "/cmd@bot args" into its lowercase command and its
// arguments. Commands addressed to another bot are rejected.
func ParseCommand(text, botUsername string) (command, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	head, rest, _ := strings.Cut(text, " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		rest = head[i:] + " " + rest
		head = head[:i]
	}
	head = strings.TrimPrefix(head, "/")

	if name, target, found := strings.Cut(head, "@"); found {
		if !strings.EqualFold(target, botUsername) {
			return "", "", false
		}
		head = name
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
