// Package gateway is the Telegram-facing edge: it turns bot updates into
// ledger calls and ledger intents back into messages. No transfer or
// inventory decision is made here; every precondition lives in the ledger.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/giftworks/telegift/telegift/database/models"
	"github.com/giftworks/telegift/telegift/database/repositories"
	"github.com/giftworks/telegift/telegift/ledger"
	"github.com/giftworks/telegift/telegift/logger"
)

// Gateway owns the bot connection and the update handlers.
type Gateway struct {
	bot       *bot.Bot
	username  string
	appName   string
	assetsURL string

	users    repositories.UserRepository
	queries  *ledger.Queries
	transfer *ledger.Transfer

	httpClient *http.Client
}

// New connects the bot and registers handlers. username and appName form
// the deep links (t.me/<username>/<appName>) the gateway hands out;
// assetsURL is the public base under which gift art is served.
func New(token, username, appName, assetsURL string,
	users repositories.UserRepository,
	queries *ledger.Queries,
	transfer *ledger.Transfer,
) (*Gateway, error) {
	g := &Gateway{
		username:   username,
		appName:    appName,
		assetsURL:  assetsURL,
		users:      users,
		queries:    queries,
		transfer:   transfer,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	b, err := bot.New(token, bot.WithDefaultHandler(g.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("connecting bot: %w", err)
	}
	g.bot = b
	return g, nil
}

// Start runs long polling until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) {
	logger.LogSystem("telegram gateway started")
	g.bot.Start(ctx)
}

// AppLink is the deep link that opens the mini app, optionally with a start
// parameter.
func (g *Gateway) AppLink(startParam string) string {
	link := fmt.Sprintf("https://t.me/%s/%s", g.username, g.appName)
	if startParam != "" {
		link += "?startapp=" + startParam
	}
	return link
}

func (g *Gateway) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		g.handleMessage(ctx, update.Message)
	case update.InlineQuery != nil:
		g.handleInlineQuery(ctx, update.InlineQuery)
	case update.ChosenInlineResult != nil:
		g.handleChosenInlineResult(ctx, update.ChosenInlineResult)
	}
}

// handleMessage greets on /start and upserts the sender's profile either
// way, so the web app always finds a row for anyone who talked to the bot.
func (g *Gateway) handleMessage(ctx context.Context, msg *tgmodels.Message) {
	from := msg.From
	user, err := g.users.Upsert(ctx, &models.User{
		ID:        from.ID,
		FirstName: from.FirstName,
		LastName:  from.LastName,
		Username:  from.Username,
		Locale:    normalizeLocale(from.LanguageCode),
	})
	if err != nil {
		logger.LogError("upserting user failed", err, slog.Int64("user_id", from.ID))
		return
	}

	_, err = g.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    msg.Chat.ID,
		Text:      tr(user.Locale, "greeting"),
		ParseMode: tgmodels.ParseModeHTML,
		ReplyMarkup: &tgmodels.InlineKeyboardMarkup{
			InlineKeyboard: [][]tgmodels.InlineKeyboardButton{{
				{Text: tr(user.Locale, "open_app"), URL: g.AppLink("")},
			}},
		},
	})
	if err != nil {
		logger.LogError("sending greeting failed", err, slog.Int64("user_id", from.ID))
	}
}

// handleInlineQuery offers the sender's claimable units as inline articles.
// The article id is the purchase action id; the message it produces carries
// the receive-gift deep link with the claim code.
func (g *Gateway) handleInlineQuery(ctx context.Context, q *tgmodels.InlineQuery) {
	units, err := g.queries.ResolveClaimableUnits(ctx, q.From.ID, q.Query)
	if err != nil {
		logger.LogError("resolving inline query failed", err, slog.Int64("user_id", q.From.ID))
		return
	}

	locale := normalizeLocale(q.From.LanguageCode)
	results := make([]tgmodels.InlineQueryResult, 0, len(units))
	for _, unit := range units {
		description, thumbnail := g.offerPreview(locale, unit.Gift)
		results = append(results, &tgmodels.InlineQueryResultArticle{
			ID:           strconv.FormatInt(unit.ID, 10),
			Title:        tr(locale, "claim_offer_title"),
			Description:  description,
			ThumbnailURL: thumbnail,
			InputMessageContent: &tgmodels.InputTextMessageContent{
				MessageText: tr(locale, "claim_offer"),
				ParseMode:   tgmodels.ParseModeHTML,
			},
			ReplyMarkup: tgmodels.InlineKeyboardMarkup{
				InlineKeyboard: [][]tgmodels.InlineKeyboardButton{{
					{Text: tr(locale, "receive_gift"), URL: g.AppLink(unit.ClaimCode)},
				}},
			},
		})
	}

	_, err = g.bot.AnswerInlineQuery(ctx, &bot.AnswerInlineQueryParams{
		InlineQueryID: q.ID,
		Results:       results,
		CacheTime:     0,
		IsPersonal:    true,
	})
	if err != nil {
		logger.LogError("answering inline query failed", err, slog.String("query_id", q.ID))
	}
}

// offerPreview renders the description and thumbnail of an inline claim
// offer. Gift art lives at <assetsURL>/assets/gift/<image>.png; with no
// assetsURL configured the article goes out without a thumbnail.
func (g *Gateway) offerPreview(locale string, gift *models.Gift) (description, thumbnail string) {
	if gift == nil {
		return "", ""
	}
	description = fmt.Sprintf(tr(locale, "send_gift_of"), gift.Name.In(locale))
	if g.assetsURL != "" {
		thumbnail = g.assetsURL + "/assets/gift/" + gift.Image + ".png"
	}
	return description, thumbnail
}

// handleChosenInlineResult stamps the produced inline message onto the unit
// so it can be edited once the gift is claimed. A zero stamp result means
// the unit was already handed off or claimed; nothing to do.
func (g *Gateway) handleChosenInlineResult(ctx context.Context, chosen *tgmodels.ChosenInlineResult) {
	if chosen.InlineMessageID == "" {
		return
	}
	unitID, err := strconv.ParseInt(chosen.ResultID, 10, 64)
	if err != nil {
		return
	}
	if _, err := g.transfer.MarkHandedToRecipientMessage(ctx, unitID, chosen.InlineMessageID); err != nil {
		logger.LogError("recording hand-off failed", err, slog.Int64("unit_id", unitID))
	}
}

// Deliver pushes ledger intents out as Telegram messages. Failures are
// logged and dropped; the ledger state they describe is already committed.
func (g *Gateway) Deliver(ctx context.Context, intents []ledger.Intent) {
	for _, intent := range intents {
		switch intent.Kind {
		case ledger.IntentPurchaseConfirmed:
			g.deliverPurchaseConfirmed(ctx, intent)
		case ledger.IntentGiftReceived:
			g.deliverGiftReceived(ctx, intent)
		}
	}
}

func (g *Gateway) deliverPurchaseConfirmed(ctx context.Context, intent ledger.Intent) {
	buyer, gift, ok := g.loadIntentParties(ctx, intent.NotifyUserID, intent.GiftID)
	if !ok {
		return
	}
	_, err := g.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    buyer.ID,
		Text:      fmt.Sprintf(tr(buyer.Locale, "purchase_confirmed"), gift.Name.In(buyer.Locale)),
		ParseMode: tgmodels.ParseModeHTML,
		ReplyMarkup: &tgmodels.InlineKeyboardMarkup{
			InlineKeyboard: [][]tgmodels.InlineKeyboardButton{{
				{Text: tr(buyer.Locale, "send_gift"), SwitchInlineQuery: intent.ClaimCode},
			}},
		},
	})
	if err != nil {
		logger.LogError("notifying purchase failed", err, slog.Int64("user_id", buyer.ID))
	}
}

func (g *Gateway) deliverGiftReceived(ctx context.Context, intent ledger.Intent) {
	buyer, gift, ok := g.loadIntentParties(ctx, intent.NotifyUserID, intent.GiftID)
	if !ok {
		return
	}

	receiverName := ""
	if receiver, err := g.users.GetByID(ctx, intent.ReceiverID); err == nil && receiver != nil {
		receiverName = receiver.DisplayName()
	}

	_, err := g.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    buyer.ID,
		Text:      fmt.Sprintf(tr(buyer.Locale, "gift_received"), receiverName, gift.Name.In(buyer.Locale)),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		logger.LogError("notifying receipt failed", err, slog.Int64("user_id", buyer.ID))
	}

	// Rewrite the inline claim offer so the link stops advertising an
	// already-claimed gift.
	if intent.DeliveryMessageRef != "" {
		_, err := g.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
			InlineMessageID: intent.DeliveryMessageRef,
			Text:            tr(buyer.Locale, "gift_taken"),
			ParseMode:       tgmodels.ParseModeHTML,
		})
		if err != nil {
			logger.LogError("editing claim offer failed", err, slog.String("message_ref", intent.DeliveryMessageRef))
		}
	}
}

func (g *Gateway) loadIntentParties(ctx context.Context, userID, giftID int64) (*models.User, *models.Gift, bool) {
	user, err := g.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		logger.LogError("loading user for intent failed", err, slog.Int64("user_id", userID))
		return nil, nil, false
	}
	gift, err := g.queries.Gift(ctx, giftID)
	if err != nil {
		logger.LogError("loading gift for intent failed", err, slog.Int64("gift_id", giftID))
		return nil, nil, false
	}
	return user, gift, true
}

// UserPhoto implements services.PhotoSource: fetches the user's current
// profile photo bytes from Telegram. An empty fileID means no photo set.
func (g *Gateway) UserPhoto(ctx context.Context, userID int64) (string, []byte, error) {
	photos, err := g.bot.GetUserProfilePhotos(ctx, &bot.GetUserProfilePhotosParams{
		UserID: userID,
		Limit:  1,
	})
	if err != nil {
		return "", nil, fmt.Errorf("listing profile photos of %d: %w", userID, err)
	}
	if photos.TotalCount == 0 || len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return "", nil, nil
	}

	// Smallest size is plenty for the avatar list.
	size := photos.Photos[0][0]
	file, err := g.bot.GetFile(ctx, &bot.GetFileParams{FileID: size.FileID})
	if err != nil {
		return "", nil, fmt.Errorf("resolving photo file of %d: %w", userID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.bot.FileDownloadLink(file), nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("downloading photo of %d: %w", userID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("downloading photo of %d: status %d", userID, resp.StatusCode)
	}

	jpeg, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	return size.FileID, jpeg, nil
}

func normalizeLocale(code string) string {
	if code == "ru" {
		return "ru"
	}
	return "en"
}
