package server

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/giftworks/telegift/telegift/ledger"
	"github.com/giftworks/telegift/telegift/payment"
)

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func queryOffset(c *fiber.Ctx) int {
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

// sendLedgerError maps the ledger's precondition errors onto HTTP statuses.
func sendLedgerError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrGiftNotFound), errors.Is(err, ledger.ErrNotFound):
		return SendNotFound(c, err.Error())
	case errors.Is(err, ledger.ErrGiftAlreadyReceived), errors.Is(err, ledger.ErrGiftOwn), errors.Is(err, ledger.ErrSoldOut):
		return SendConflict(c, err.Error())
	case errors.Is(err, ledger.ErrInvalidArgument):
		return SendBadRequest(c, err.Error())
	default:
		slog.Error("request failed",
			slog.String("type", "api"),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()))
		return SendInternalServerError(c, "Something went wrong")
	}
}

func HealthCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return SendSuccess(c, fiber.Map{"status": "ok"})
	}
}

func GiftsList(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		gifts, err := s.queries.Catalog(c.Context())
		if err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, gifts)
	}
}

func GiftsDetail(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseInt64(c.Params("id"))
		if err != nil {
			return SendBadRequest(c, "Invalid gift id")
		}
		gift, err := s.queries.Gift(c.Context(), id)
		if err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, gift)
	}
}

func GiftsHistory(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseInt64(c.Params("id"))
		if err != nil {
			return SendBadRequest(c, "Invalid gift id")
		}
		actions, err := s.queries.GiftHistory(c.Context(), id, queryOffset(c))
		if err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, actions)
	}
}

func GiftsBuy(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseInt64(c.Params("id"))
		if err != nil {
			return SendBadRequest(c, "Invalid gift id")
		}
		ref, err := s.workflow.OpenInvoice(c.Context(), currentUser(c).ID, id)
		if err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, fiber.Map{
			"invoiceId":  ref.ExternalID,
			"paymentUrl": ref.PaymentURL,
		})
	}
}

type claimRequest struct {
	Code string `json:"code"`
}

func GiftsClaim(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req claimRequest
		if err := c.BodyParser(&req); err != nil || req.Code == "" {
			return SendBadRequest(c, "Missing claim code")
		}

		res, err := s.transfer.Claim(c.Context(), req.Code, currentUser(c).ID)
		if err != nil {
			return sendLedgerError(c, err)
		}
		if len(res.Intents) > 0 && s.notifier != nil {
			s.notifier.Deliver(c.Context(), res.Intents)
		}
		if s.search != nil && !res.Replayed {
			s.search.Invalidate()
		}
		return SendSuccess(c, fiber.Map{
			"purchase": res.Purchase,
			"receive":  res.Receive,
			"replayed": res.Replayed,
		})
	}
}

func Leaderboard(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		users, err := s.queries.Leaderboard(c.Context())
		if err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, users)
	}
}

func UsersDetail(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseInt64(c.Params("id"))
		if err != nil {
			return SendBadRequest(c, "Invalid user id")
		}
		profile, err := s.queries.UserProfile(c.Context(), id)
		if err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, fiber.Map{
			"user": profile.User,
			"rank": profile.Rank,
		})
	}
}

func UsersGifts(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseInt64(c.Params("id"))
		if err != nil {
			return SendBadRequest(c, "Invalid user id")
		}
		actions, err := s.queries.ReceivedGifts(c.Context(), id, queryOffset(c))
		if err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, actions)
	}
}

func UsersPhoto(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseInt64(c.Params("id"))
		if err != nil {
			return SendBadRequest(c, "Invalid user id")
		}
		user, err := s.users.GetByID(c.Context(), id)
		if err != nil {
			return sendLedgerError(c, err)
		}
		if user == nil || !user.HasPhoto || s.avatars == nil {
			return SendNotFound(c, "No photo")
		}
		return c.Redirect(s.avatars.URL(id), fiber.StatusFound)
	}
}

func MyInventory(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actions, err := s.queries.HeldUnits(c.Context(), currentUser(c).ID, queryOffset(c))
		if err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, actions)
	}
}

func MyActivity(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actions, err := s.queries.Activity(c.Context(), currentUser(c).ID, queryOffset(c))
		if err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, actions)
	}
}

func SearchUsers(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		users, err := s.search.Search(c.Context(), c.Query("q"), queryOffset(c))
		if err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, users)
	}
}

type settingsRequest struct {
	Theme  *string `json:"theme"`
	Locale *string `json:"locale"`
}

func UpdateSettings(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req settingsRequest
		if err := c.BodyParser(&req); err != nil {
			return SendBadRequest(c, "Invalid settings payload")
		}
		if req.Theme == nil && req.Locale == nil {
			return SendBadRequest(c, "Nothing to update")
		}
		if req.Theme != nil && *req.Theme != "day" && *req.Theme != "night" {
			return SendBadRequest(c, "Unknown theme")
		}
		if req.Locale != nil && *req.Locale != "en" && *req.Locale != "ru" {
			return SendBadRequest(c, "Unknown locale")
		}
		if err := s.users.UpdateSettings(c.Context(), currentUser(c).ID, req.Theme, req.Locale); err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, fiber.Map{"updated": true})
	}
}

// claimOutcome reports what happened to the start_param code during init.
// Claim problems are payload here, never request failures: the app must
// still open on a spent or foreign code.
type claimOutcome struct {
	Code   string `json:"code"`
	Status string `json:"status"`
}

// Bootstrap serves the opening-screen snapshot. When the app was opened
// through a claim deep link, the code is claimed first so the snapshot
// already contains the received gift.
func Bootstrap(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := currentUser(c)
		claim := s.claimOnInit(c, user.ID)

		snap, err := s.queries.BootstrapSnapshot(c.Context(), user.ID)
		if err != nil {
			return sendLedgerError(c, err)
		}
		return SendSuccess(c, fiber.Map{
			"snapshot": snap,
			"claim":    claim,
		})
	}
}

func (s *Server) claimOnInit(c *fiber.Ctx, userID int64) *claimOutcome {
	code := startParam(c)
	if s.transfer == nil || !ledger.IsClaimCode(code) {
		return nil
	}

	res, err := s.transfer.Claim(c.Context(), code, userID)
	if err == nil {
		if len(res.Intents) > 0 && s.notifier != nil {
			s.notifier.Deliver(c.Context(), res.Intents)
		}
		if s.search != nil && !res.Replayed {
			s.search.Invalidate()
		}
		status := "received"
		if res.Replayed {
			status = "replayed"
		}
		return &claimOutcome{Code: code, Status: status}
	}

	switch {
	case errors.Is(err, ledger.ErrGiftAlreadyReceived):
		return &claimOutcome{Code: code, Status: "already_received"}
	case errors.Is(err, ledger.ErrGiftOwn):
		return &claimOutcome{Code: code, Status: "own_gift"}
	case errors.Is(err, ledger.ErrGiftNotFound):
		return &claimOutcome{Code: code, Status: "not_found"}
	default:
		slog.Error("claiming start_param failed",
			slog.String("type", "api"),
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()))
		return &claimOutcome{Code: code, Status: "error"}
	}
}

// PaymentWebhook receives Crypto Pay callbacks. The signature over the raw
// body gates everything; after that a paid invoice is confirmed in the
// ledger, and replays fall out naturally as absorbed promotions.
func PaymentWebhook(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		body := c.Body()
		if !s.payments.VerifySignature(body, c.Get(payment.SignatureHeader)) {
			return SendUnauthorized(c, "Bad signature")
		}

		externalID, ok, err := payment.ParsePaidInvoice(body)
		if err != nil {
			return SendBadRequest(c, "Malformed update")
		}
		if !ok {
			return SendSuccess(c, fiber.Map{"ignored": true})
		}

		unit, intent, err := s.workflow.ConfirmPayment(c.Context(), externalID)
		if err != nil {
			return sendLedgerError(c, err)
		}
		if unit == nil {
			return SendSuccess(c, fiber.Map{"duplicate": true})
		}
		if intent != nil && s.notifier != nil {
			s.notifier.Deliver(c.Context(), []ledger.Intent{*intent})
		}
		return SendSuccess(c, fiber.Map{"confirmed": true})
	}
}
